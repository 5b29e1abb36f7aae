/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"fmt"
)

// Schema is applied idempotently at startup. Hot query paths get explicit
// indexes: ping history by (device_ip, timestamp), alert history by
// (device_id, resolved_at) with a partial index for the unresolved set.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS branches (
		id           UUID PRIMARY KEY,
		name         TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		region       TEXT NOT NULL DEFAULT '',
		code         TEXT NOT NULL DEFAULT '',
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS standalone_devices (
		id               UUID PRIMARY KEY,
		name             TEXT NOT NULL,
		ip               TEXT NOT NULL,
		hostname         TEXT NOT NULL DEFAULT '',
		vendor           TEXT NOT NULL DEFAULT '',
		model            TEXT NOT NULL DEFAULT '',
		device_type      TEXT NOT NULL DEFAULT '',
		device_subtype   TEXT NOT NULL DEFAULT '',
		location         TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		branch_id        UUID REFERENCES branches(id),
		enabled          BOOLEAN NOT NULL DEFAULT TRUE,
		ssh_port         INTEGER NOT NULL DEFAULT 0,
		ssh_user         TEXT NOT NULL DEFAULT '',
		down_since       TIMESTAMPTZ,
		is_flapping      BOOLEAN NOT NULL DEFAULT FALSE,
		flap_count       INTEGER NOT NULL DEFAULT 0,
		flapping_since   TIMESTAMPTZ,
		last_check       TIMESTAMPTZ,
		last_rtt_ms      DOUBLE PRECISION,
		credential_error BOOLEAN NOT NULL DEFAULT FALSE,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_branch
		ON standalone_devices (branch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_enabled_vendor
		ON standalone_devices (enabled, vendor) WHERE enabled`,
	`CREATE INDEX IF NOT EXISTS idx_devices_ip
		ON standalone_devices (ip)`,

	`CREATE TABLE IF NOT EXISTS monitoring_items (
		id               UUID PRIMARY KEY,
		device_id        UUID NOT NULL REFERENCES standalone_devices(id) ON DELETE CASCADE,
		oid              TEXT NOT NULL,
		name             TEXT NOT NULL,
		interval_seconds INTEGER NOT NULL,
		value_type       TEXT NOT NULL,
		units            TEXT NOT NULL DEFAULT '',
		tabular          BOOLEAN NOT NULL DEFAULT FALSE,
		enabled          BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_device_enabled
		ON monitoring_items (device_id, enabled) WHERE enabled`,

	`CREATE TABLE IF NOT EXISTS snmp_credentials (
		device_id     UUID PRIMARY KEY REFERENCES standalone_devices(id) ON DELETE CASCADE,
		version       TEXT NOT NULL,
		port          INTEGER NOT NULL DEFAULT 161,
		community_enc TEXT NOT NULL DEFAULT '',
		security_name TEXT NOT NULL DEFAULT '',
		auth_protocol TEXT NOT NULL DEFAULT '',
		auth_pass_enc TEXT NOT NULL DEFAULT '',
		priv_protocol TEXT NOT NULL DEFAULT '',
		priv_pass_enc TEXT NOT NULL DEFAULT '',
		updated_at    TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS device_interfaces (
		device_id    UUID NOT NULL REFERENCES standalone_devices(id) ON DELETE CASCADE,
		if_index     BIGINT NOT NULL,
		if_name      TEXT NOT NULL DEFAULT '',
		if_alias     TEXT NOT NULL DEFAULT '',
		if_type      INTEGER NOT NULL DEFAULT 0,
		admin_status INTEGER NOT NULL DEFAULT 0,
		oper_status  INTEGER NOT NULL DEFAULT 0,
		speed_bps    BIGINT NOT NULL DEFAULT 0,
		mtu          INTEGER NOT NULL DEFAULT 0,
		class        TEXT NOT NULL DEFAULT '',
		provider     TEXT NOT NULL DEFAULT '',
		critical     BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (device_id, if_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interfaces_class
		ON device_interfaces (class) WHERE class = 'isp'`,

	`CREATE TABLE IF NOT EXISTS alert_rules (
		id                UUID PRIMARY KEY,
		name              TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		expression        TEXT NOT NULL,
		severity          TEXT NOT NULL,
		enabled           BOOLEAN NOT NULL DEFAULT TRUE,
		device_id         UUID REFERENCES standalone_devices(id) ON DELETE CASCADE,
		branch_id         UUID REFERENCES branches(id) ON DELETE CASCADE,
		provider          TEXT NOT NULL DEFAULT '',
		interface_pattern TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS alert_history (
		id              UUID PRIMARY KEY,
		rule_id         UUID REFERENCES alert_rules(id) ON DELETE SET NULL,
		device_id       UUID NOT NULL REFERENCES standalone_devices(id) ON DELETE CASCADE,
		interface_id    BIGINT,
		severity        TEXT NOT NULL,
		message         TEXT NOT NULL,
		value           DOUBLE PRECISION,
		provider        TEXT NOT NULL DEFAULT '',
		triggered_at    TIMESTAMPTZ NOT NULL,
		resolved_at     TIMESTAMPTZ,
		acknowledged_at TIMESTAMPTZ,
		acknowledged_by TEXT,
		metadata        JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_device_resolved
		ON alert_history (device_id, resolved_at)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_unresolved
		ON alert_history (device_id) WHERE resolved_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS ping_results (
		device_id    UUID NOT NULL REFERENCES standalone_devices(id) ON DELETE CASCADE,
		device_ip    TEXT NOT NULL,
		packets_sent INTEGER NOT NULL,
		packets_recv INTEGER NOT NULL,
		loss_pct     DOUBLE PRECISION NOT NULL,
		min_rtt_ms   DOUBLE PRECISION NOT NULL,
		avg_rtt_ms   DOUBLE PRECISION NOT NULL,
		max_rtt_ms   DOUBLE PRECISION NOT NULL,
		reachable    BOOLEAN NOT NULL,
		timestamp    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pings_ip_time
		ON ping_results (device_ip, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_pings_device_time
		ON ping_results (device_id, timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS monitoring_item_values (
		item_id    UUID PRIMARY KEY REFERENCES monitoring_items(id) ON DELETE CASCADE,
		device_id  UUID NOT NULL,
		oid        TEXT NOT NULL,
		name       TEXT NOT NULL,
		value_type TEXT NOT NULL,
		int_val    BIGINT,
		float_val  DOUBLE PRECISION,
		str_val    TEXT,
		timestamp  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_values_device
		ON monitoring_item_values (device_id)`,

	`CREATE TABLE IF NOT EXISTS device_status_history (
		device_id  UUID NOT NULL REFERENCES standalone_devices(id) ON DELETE CASCADE,
		old_status TEXT NOT NULL,
		new_status TEXT NOT NULL,
		timestamp  TIMESTAMPTZ NOT NULL,
		rtt_ms     DOUBLE PRECISION
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_history_device
		ON device_status_history (device_id, timestamp DESC)`,
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToInitSchema, err)
		}
	}

	return nil
}
