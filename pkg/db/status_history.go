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

	"github.com/carverauto/netwatch/pkg/models"
)

const defaultStatusHistoryLimit = 100

const insertStatusChangeSQL = `INSERT INTO device_status_history
	(device_id, old_status, new_status, timestamp, rtt_ms)
	VALUES ($1, $2, $3, $4, $5)`

const listStatusChangesSQL = `SELECT h.device_id, d.ip, d.hostname,
	h.old_status, h.new_status, h.timestamp, h.rtt_ms
	FROM device_status_history h
	JOIN standalone_devices d ON d.id = h.device_id
	WHERE h.device_id = $1
	ORDER BY h.timestamp DESC LIMIT $2`

// InsertStatusChange appends one committed state machine transition.
func (s *Store) InsertStatusChange(ctx context.Context, sc *models.StatusChange) error {
	_, err := s.pool.Exec(ctx, insertStatusChangeSQL,
		sc.DeviceID, sc.OldStatus, sc.NewStatus, sc.Timestamp.UTC(), sc.RTTMs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

// ListStatusChanges returns recent transitions for a device, newest first.
func (s *Store) ListStatusChanges(ctx context.Context, deviceID string, limit int) ([]*models.StatusChange, error) {
	if limit <= 0 {
		limit = defaultStatusHistoryLimit
	}

	rows, err := s.pool.Query(ctx, listStatusChangesSQL, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var changes []*models.StatusChange

	for rows.Next() {
		var sc models.StatusChange

		if err := rows.Scan(&sc.DeviceID, &sc.IP, &sc.Hostname,
			&sc.OldStatus, &sc.NewStatus, &sc.Timestamp, &sc.RTTMs); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		changes = append(changes, &sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return changes, nil
}
