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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carverauto/netwatch/pkg/models"
)

// ErrItemIntervalTooShort rejects monitoring items below the polling floor.
var ErrItemIntervalTooShort = errors.New("monitoring item interval below minimum")

const itemColumns = `id, device_id, oid, name, interval_seconds, value_type, units, tabular, enabled`

const insertItemSQL = `INSERT INTO monitoring_items (` + itemColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const getItemSQL = `SELECT ` + itemColumns + ` FROM monitoring_items WHERE id = $1`

const listItemsSQL = `SELECT ` + itemColumns + ` FROM monitoring_items
	WHERE device_id = $1 ORDER BY name`

const listEnabledItemsSQL = `SELECT ` + itemColumns + ` FROM monitoring_items m
	WHERE m.enabled AND EXISTS (
		SELECT 1 FROM standalone_devices d WHERE d.id = m.device_id AND d.enabled
	)`

const updateItemSQL = `UPDATE monitoring_items SET
	oid = $2, name = $3, interval_seconds = $4, value_type = $5,
	units = $6, tabular = $7, enabled = $8
	WHERE id = $1`

const deleteItemSQL = `DELETE FROM monitoring_items WHERE id = $1`

// CreateItem inserts a monitoring item after validating its interval.
func (s *Store) CreateItem(ctx context.Context, item *models.MonitoringItem) error {
	if item.IntervalSeconds < models.MinItemInterval {
		return fmt.Errorf("%w: %ds", ErrItemIntervalTooShort, item.IntervalSeconds)
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx, insertItemSQL,
		item.ID, item.DeviceID, item.OID, item.Name, item.IntervalSeconds,
		item.ValueType, item.Units, item.Tabular, item.Enabled)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*models.MonitoringItem, error) {
	row := s.pool.QueryRow(ctx, getItemSQL, id)

	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return item, nil
}

func (s *Store) ListItems(ctx context.Context, deviceID string) ([]*models.MonitoringItem, error) {
	return s.queryItems(ctx, listItemsSQL, deviceID)
}

// ListEnabledItems returns items eligible for scheduling: enabled items on
// enabled devices.
func (s *Store) ListEnabledItems(ctx context.Context) ([]*models.MonitoringItem, error) {
	return s.queryItems(ctx, listEnabledItemsSQL)
}

func (s *Store) queryItems(ctx context.Context, sql string, args ...interface{}) ([]*models.MonitoringItem, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var items []*models.MonitoringItem

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return items, nil
}

func (s *Store) UpdateItem(ctx context.Context, item *models.MonitoringItem) error {
	if item.IntervalSeconds < models.MinItemInterval {
		return fmt.Errorf("%w: %ds", ErrItemIntervalTooShort, item.IntervalSeconds)
	}

	tag, err := s.pool.Exec(ctx, updateItemSQL,
		item.ID, item.OID, item.Name, item.IntervalSeconds,
		item.ValueType, item.Units, item.Tabular, item.Enabled)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteItemSQL, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToDelete, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanItem(row rowScanner) (*models.MonitoringItem, error) {
	var item models.MonitoringItem

	err := row.Scan(&item.ID, &item.DeviceID, &item.OID, &item.Name,
		&item.IntervalSeconds, &item.ValueType, &item.Units, &item.Tabular, &item.Enabled)
	if err != nil {
		return nil, err
	}

	return &item, nil
}
