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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carverauto/netwatch/pkg/models"
)

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	DeviceID     string
	Severity     models.Severity
	ActiveOnly   bool
	ResolvedOnly bool
	Since        time.Time
	Limit        int
}

const defaultAlertLimit = 200

const ruleColumns = `id, name, description, expression, severity, enabled,
	device_id, branch_id, provider, interface_pattern, created_at, updated_at`

const insertRuleSQL = `INSERT INTO alert_rules (` + ruleColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const getRuleSQL = `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = $1`

const updateRuleSQL = `UPDATE alert_rules SET
	name = $2, description = $3, expression = $4, severity = $5, enabled = $6,
	device_id = $7, branch_id = $8, provider = $9, interface_pattern = $10, updated_at = $11
	WHERE id = $1`

const deleteRuleSQL = `DELETE FROM alert_rules WHERE id = $1`

const alertColumns = `id, rule_id, device_id, interface_id, severity, message, value,
	provider, triggered_at, resolved_at, acknowledged_at, acknowledged_by, metadata`

const insertAlertSQL = `INSERT INTO alert_history (` + alertColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const getAlertSQL = `SELECT ` + alertColumns + ` FROM alert_history WHERE id = $1`

const listUnresolvedSQL = `SELECT ` + alertColumns + ` FROM alert_history
	WHERE resolved_at IS NULL ORDER BY triggered_at DESC`

const findUnresolvedSQL = `SELECT ` + alertColumns + ` FROM alert_history
	WHERE resolved_at IS NULL
	AND device_id = $1
	AND rule_id IS NOT DISTINCT FROM $2
	AND interface_id IS NOT DISTINCT FROM $3
	ORDER BY triggered_at DESC
	LIMIT 1`

const resolveAlertSQL = `UPDATE alert_history SET resolved_at = $2
	WHERE id = $1 AND resolved_at IS NULL`

const resolveDeviceAlertsSQL = `UPDATE alert_history SET resolved_at = $2
	WHERE device_id = $1 AND resolved_at IS NULL`

const acknowledgeAlertSQL = `UPDATE alert_history SET acknowledged_at = $2, acknowledged_by = $3
	WHERE id = $1 AND acknowledged_at IS NULL`

// Keeps the newest unresolved row per fingerprint and resolves the rest.
// Repair path for the at-most-one-unresolved invariant after crashes.
const resolveDuplicatesSQL = `UPDATE alert_history SET resolved_at = $1
	WHERE resolved_at IS NULL AND id NOT IN (
		SELECT DISTINCT ON (device_id, COALESCE(rule_id::text, ''), COALESCE(interface_id, -1)) id
		FROM alert_history
		WHERE resolved_at IS NULL
		ORDER BY device_id, COALESCE(rule_id::text, ''), COALESCE(interface_id, -1),
			triggered_at DESC
	)`

const countActiveAlertsSQL = `SELECT COUNT(*),
	COUNT(*) FILTER (WHERE severity = 'critical')
	FROM alert_history WHERE resolved_at IS NULL`

// CreateRule inserts an alert rule, assigning an ID when absent. Expressions
// are stored verbatim; parsing happens in the alerting engine.
func (s *Store) CreateRule(ctx context.Context, r *models.AlertRule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}

	now := nowUTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.pool.Exec(ctx, insertRuleSQL,
		r.ID, r.Name, r.Description, r.Expression, r.Severity, r.Enabled,
		r.DeviceID, r.BranchID, r.Provider, r.InterfacePattern, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*models.AlertRule, error) {
	row := s.pool.QueryRow(ctx, getRuleSQL, id)

	r, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return r, nil
}

func (s *Store) ListRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules`
	if enabledOnly {
		query += ` WHERE enabled`
	}

	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var rules []*models.AlertRule

	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return rules, nil
}

func (s *Store) UpdateRule(ctx context.Context, r *models.AlertRule) error {
	r.UpdatedAt = nowUTC()

	tag, err := s.pool.Exec(ctx, updateRuleSQL,
		r.ID, r.Name, r.Description, r.Expression, r.Severity, r.Enabled,
		r.DeviceID, r.BranchID, r.Provider, r.InterfacePattern, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteRuleSQL, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToDelete, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// InsertAlert appends one alert history row.
func (s *Store) InsertAlert(ctx context.Context, e *models.AlertEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	if e.TriggeredAt.IsZero() {
		e.TriggeredAt = nowUTC()
	}

	_, err := s.pool.Exec(ctx, insertAlertSQL,
		e.ID, e.RuleID, e.DeviceID, e.InterfaceID, e.Severity, e.Message, e.Value,
		e.Provider, e.TriggeredAt, e.ResolvedAt, e.AcknowledgedAt, e.AcknowledgedBy, e.Metadata)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (*models.AlertEvent, error) {
	row := s.pool.QueryRow(ctx, getAlertSQL, id)

	e, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return e, nil
}

// ListAlerts returns history rows matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]*models.AlertEvent, error) {
	query := `SELECT ` + alertColumns + ` FROM alert_history WHERE 1=1`

	args := make([]interface{}, 0, 4)

	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
		query += fmt.Sprintf(" AND device_id = $%d", len(args))
	}

	if f.Severity != "" {
		args = append(args, f.Severity)
		query += fmt.Sprintf(" AND severity = $%d", len(args))
	}

	if f.ActiveOnly {
		query += " AND resolved_at IS NULL"
	}

	if f.ResolvedOnly {
		query += " AND resolved_at IS NOT NULL"
	}

	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND triggered_at >= $%d", len(args))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY triggered_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

func (s *Store) ListUnresolvedAlerts(ctx context.Context) ([]*models.AlertEvent, error) {
	rows, err := s.pool.Query(ctx, listUnresolvedSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// FindUnresolvedAlert looks up the open row for a dedup fingerprint. A missing
// rule is matched as NULL, a missing interface as NULL.
func (s *Store) FindUnresolvedAlert(ctx context.Context, fp models.AlertFingerprint) (*models.AlertEvent, error) {
	var ruleID *string
	if fp.RuleID != "" {
		ruleID = &fp.RuleID
	}

	var ifaceID *int64
	if fp.InterfaceID >= 0 {
		ifaceID = &fp.InterfaceID
	}

	row := s.pool.QueryRow(ctx, findUnresolvedSQL, fp.DeviceID, ruleID, ifaceID)

	e, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return e, nil
}

// ResolveAlert closes one alert. Already-resolved rows are left untouched, so
// the call is idempotent.
func (s *Store) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	if _, err := s.pool.Exec(ctx, resolveAlertSQL, id, at.UTC()); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	return nil
}

// ResolveDeviceAlerts closes every open alert for a device and reports how
// many rows were affected. Used on recovery transitions.
func (s *Store) ResolveDeviceAlerts(ctx context.Context, deviceID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, resolveDeviceAlertsSQL, deviceID, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	return tag.RowsAffected(), nil
}

// AcknowledgeAlert marks an alert seen by an operator. Re-acknowledging keeps
// the first acknowledgment.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) error {
	if _, err := s.pool.Exec(ctx, acknowledgeAlertSQL, id, at.UTC(), by); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	return nil
}

// ResolveDuplicateAlerts repairs fingerprints that accumulated more than one
// unresolved row, keeping the newest. Returns the number of rows closed.
func (s *Store) ResolveDuplicateAlerts(ctx context.Context, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, resolveDuplicatesSQL, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	return tag.RowsAffected(), nil
}

// CountActiveAlerts returns the open alert total and the critical subset.
func (s *Store) CountActiveAlerts(ctx context.Context) (total, critical int, err error) {
	if err := s.pool.QueryRow(ctx, countActiveAlertsSQL).Scan(&total, &critical); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return total, critical, nil
}

func scanRule(row rowScanner) (*models.AlertRule, error) {
	var r models.AlertRule

	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Expression, &r.Severity, &r.Enabled,
		&r.DeviceID, &r.BranchID, &r.Provider, &r.InterfacePattern, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

func scanAlert(row rowScanner) (*models.AlertEvent, error) {
	var e models.AlertEvent

	err := row.Scan(&e.ID, &e.RuleID, &e.DeviceID, &e.InterfaceID, &e.Severity,
		&e.Message, &e.Value, &e.Provider, &e.TriggeredAt, &e.ResolvedAt,
		&e.AcknowledgedAt, &e.AcknowledgedBy, &e.Metadata)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

func scanAlerts(rows pgx.Rows) ([]*models.AlertEvent, error) {
	var alerts []*models.AlertEvent

	for rows.Next() {
		e, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		alerts = append(alerts, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return alerts, nil
}
