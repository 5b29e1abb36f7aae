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

// DeviceFilter narrows ListDevices. Zero values mean "any".
type DeviceFilter struct {
	BranchID    string
	Region      string
	Vendor      string
	DeviceType  string
	EnabledOnly bool
}

// DeviceState is the subset of device columns owned by the status engine.
// Updates are applied atomically so probe results and transitions never
// interleave partially.
type DeviceState struct {
	DeviceID      string
	DownSince     *time.Time
	IsFlapping    bool
	FlapCount     int
	FlappingSince *time.Time
	LastCheck     time.Time
	LastRTTMs     *float64
}

const deviceColumns = `id, name, ip, hostname, vendor, model, device_type, device_subtype,
	location, description, branch_id, enabled, ssh_port, ssh_user,
	down_since, is_flapping, flap_count, flapping_since, last_check, last_rtt_ms,
	credential_error, created_at, updated_at`

const insertDeviceSQL = `INSERT INTO standalone_devices (` + deviceColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21, $22, $23)`

const getDeviceSQL = `SELECT ` + deviceColumns + ` FROM standalone_devices WHERE id = $1`

const getDevicesByIPSQL = `SELECT ` + deviceColumns + ` FROM standalone_devices WHERE ip = $1`

const updateDeviceSQL = `UPDATE standalone_devices SET
	name = $2, ip = $3, hostname = $4, vendor = $5, model = $6,
	device_type = $7, device_subtype = $8, location = $9, description = $10,
	branch_id = $11, enabled = $12, ssh_port = $13, ssh_user = $14, updated_at = $15
	WHERE id = $1`

const updateDeviceStateSQL = `UPDATE standalone_devices SET
	down_since = $2, is_flapping = $3, flap_count = $4, flapping_since = $5,
	last_check = $6, last_rtt_ms = $7, updated_at = $8
	WHERE id = $1`

const setCredentialErrorSQL = `UPDATE standalone_devices SET
	credential_error = $2, updated_at = $3 WHERE id = $1`

const deleteDeviceSQL = `DELETE FROM standalone_devices WHERE id = $1`

// CreateDevice inserts a new device, assigning an ID when absent.
func (s *Store) CreateDevice(ctx context.Context, d *models.Device) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	now := nowUTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := s.pool.Exec(ctx, insertDeviceSQL,
		d.ID, d.Name, d.IP, d.Hostname, d.Vendor, d.Model, d.DeviceType, d.DeviceSubtype,
		d.Location, d.Description, d.BranchID, d.Enabled, d.SSHPort, d.SSHUser,
		d.DownSince, d.IsFlapping, d.FlapCount, d.FlappingSince, d.LastCheck, d.LastRTTMs,
		d.CredentialError, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

// CreateDevices inserts a batch in one transaction. Either every device lands
// or none do; bulk import relies on that.
func (s *Store) CreateDevices(ctx context.Context, devices []*models.Device) error {
	if len(devices) == 0 {
		return nil
	}

	now := nowUTC()
	batch := &pgx.Batch{}

	for _, d := range devices {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}

		d.CreatedAt = now
		d.UpdatedAt = now

		batch.Queue(insertDeviceSQL,
			d.ID, d.Name, d.IP, d.Hostname, d.Vendor, d.Model, d.DeviceType, d.DeviceSubtype,
			d.Location, d.Description, d.BranchID, d.Enabled, d.SSHPort, d.SSHUser,
			d.DownSince, d.IsFlapping, d.FlapCount, d.FlappingSince, d.LastCheck, d.LastRTTMs,
			d.CredentialError, d.CreatedAt, d.UpdatedAt)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	results := tx.SendBatch(ctx, batch)

	for range devices {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
		}
	}

	if err := results.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToCommitTx, err)
	}

	return nil
}

// GetDevice fetches a device by ID.
func (s *Store) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	row := s.pool.QueryRow(ctx, getDeviceSQL, id)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return d, nil
}

// GetDevicesByIP returns every device sharing the address. Duplicate IPs are
// legal, so callers always receive a slice.
func (s *Store) GetDevicesByIP(ctx context.Context, ip string) ([]*models.Device, error) {
	rows, err := s.pool.Query(ctx, getDevicesByIPSQL, ip)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	return scanDevices(rows)
}

// ListDevices returns devices matching the filter, ordered by name.
func (s *Store) ListDevices(ctx context.Context, f DeviceFilter) ([]*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM standalone_devices WHERE 1=1`

	args := make([]interface{}, 0, 4)

	if f.BranchID != "" {
		args = append(args, f.BranchID)
		query += fmt.Sprintf(" AND branch_id = $%d", len(args))
	}

	if f.Region != "" {
		args = append(args, f.Region)
		query += fmt.Sprintf(
			" AND EXISTS (SELECT 1 FROM branches b WHERE b.id = branch_id AND b.region = $%d)",
			len(args))
	}

	if f.Vendor != "" {
		args = append(args, f.Vendor)
		query += fmt.Sprintf(" AND vendor = $%d", len(args))
	}

	if f.DeviceType != "" {
		args = append(args, f.DeviceType)
		query += fmt.Sprintf(" AND device_type = $%d", len(args))
	}

	if f.EnabledOnly {
		query += " AND enabled"
	}

	query += " ORDER BY name"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	return scanDevices(rows)
}

// UpdateDevice persists operator-editable fields. Liveness columns are owned
// by UpdateDeviceState and left untouched here.
func (s *Store) UpdateDevice(ctx context.Context, d *models.Device) error {
	d.UpdatedAt = nowUTC()

	tag, err := s.pool.Exec(ctx, updateDeviceSQL,
		d.ID, d.Name, d.IP, d.Hostname, d.Vendor, d.Model,
		d.DeviceType, d.DeviceSubtype, d.Location, d.Description,
		d.BranchID, d.Enabled, d.SSHPort, d.SSHUser, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateDeviceState writes the status engine's view of the device in a single
// statement.
func (s *Store) UpdateDeviceState(ctx context.Context, st *DeviceState) error {
	tag, err := s.pool.Exec(ctx, updateDeviceStateSQL,
		st.DeviceID, st.DownSince, st.IsFlapping, st.FlapCount,
		st.FlappingSince, st.LastCheck, st.LastRTTMs, nowUTC())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// SetCredentialError toggles the per-device SNMP auth failure badge.
func (s *Store) SetCredentialError(ctx context.Context, deviceID string, flagged bool) error {
	tag, err := s.pool.Exec(ctx, setCredentialErrorSQL, deviceID, flagged, nowUTC())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteDevice removes the device; items, credentials, interfaces, telemetry
// and alert history cascade.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteDeviceSQL, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToDelete, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device

	err := row.Scan(
		&d.ID, &d.Name, &d.IP, &d.Hostname, &d.Vendor, &d.Model, &d.DeviceType, &d.DeviceSubtype,
		&d.Location, &d.Description, &d.BranchID, &d.Enabled, &d.SSHPort, &d.SSHUser,
		&d.DownSince, &d.IsFlapping, &d.FlapCount, &d.FlappingSince, &d.LastCheck, &d.LastRTTMs,
		&d.CredentialError, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &d, nil
}

func scanDevices(rows pgx.Rows) ([]*models.Device, error) {
	var devices []*models.Device

	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return devices, nil
}
