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

	"github.com/jackc/pgx/v5"

	"github.com/carverauto/netwatch/pkg/models"
)

const upsertInterfaceSQL = `INSERT INTO device_interfaces
	(device_id, if_index, if_name, if_alias, if_type, admin_status, oper_status,
	 speed_bps, mtu, class, provider, critical, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (device_id, if_index) DO UPDATE SET
		if_name = EXCLUDED.if_name,
		if_alias = EXCLUDED.if_alias,
		if_type = EXCLUDED.if_type,
		admin_status = EXCLUDED.admin_status,
		oper_status = EXCLUDED.oper_status,
		speed_bps = EXCLUDED.speed_bps,
		mtu = EXCLUDED.mtu,
		class = EXCLUDED.class,
		provider = EXCLUDED.provider,
		critical = EXCLUDED.critical,
		updated_at = EXCLUDED.updated_at`

const interfaceColumns = `device_id, if_index, if_name, if_alias, if_type, admin_status,
	oper_status, speed_bps, mtu, class, provider, critical, updated_at`

const listInterfacesSQL = `SELECT ` + interfaceColumns + ` FROM device_interfaces
	WHERE device_id = $1 ORDER BY if_index`

const listEnabledInterfacesSQL = `SELECT ` + interfaceColumns + ` FROM device_interfaces i
	WHERE EXISTS (
		SELECT 1 FROM standalone_devices d WHERE d.id = i.device_id AND d.enabled
	)
	ORDER BY i.device_id, i.if_index`

// UpsertInterfaces replaces the interface snapshot for a device in one batch.
// Interfaces that disappeared from the walk are removed.
func (s *Store) UpsertInterfaces(ctx context.Context, deviceID string, ifaces []*models.Interface) error {
	now := nowUTC()

	batch := &pgx.Batch{}

	seen := make([]int64, 0, len(ifaces))

	for _, iface := range ifaces {
		seen = append(seen, iface.IfIndex)
		batch.Queue(upsertInterfaceSQL,
			deviceID, iface.IfIndex, iface.IfName, iface.IfAlias, iface.IfType,
			iface.AdminStatus, iface.OperStatus, iface.SpeedBps, iface.MTU,
			iface.Class, iface.Provider, iface.Critical, now)
	}

	batch.Queue(`DELETE FROM device_interfaces
		WHERE device_id = $1 AND NOT (if_index = ANY($2))`, deviceID, seen)

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%w: batch statement %d: %w", ErrFailedToInsert, i, err)
		}
	}

	return nil
}

func (s *Store) ListInterfaces(ctx context.Context, deviceID string) ([]*models.Interface, error) {
	return s.queryInterfaces(ctx, listInterfacesSQL, deviceID)
}

// ListEnabledInterfaces returns every interface on enabled devices in one
// query, the alert engine's per-cycle batch.
func (s *Store) ListEnabledInterfaces(ctx context.Context) ([]*models.Interface, error) {
	return s.queryInterfaces(ctx, listEnabledInterfacesSQL)
}

func (s *Store) queryInterfaces(ctx context.Context, sql string, args ...interface{}) ([]*models.Interface, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var ifaces []*models.Interface

	for rows.Next() {
		var iface models.Interface

		if err := rows.Scan(&iface.DeviceID, &iface.IfIndex, &iface.IfName, &iface.IfAlias,
			&iface.IfType, &iface.AdminStatus, &iface.OperStatus, &iface.SpeedBps,
			&iface.MTU, &iface.Class, &iface.Provider, &iface.Critical, &iface.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		ifaces = append(ifaces, &iface)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return ifaces, nil
}
