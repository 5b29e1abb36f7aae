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

	"github.com/jackc/pgx/v5"

	"github.com/carverauto/netwatch/pkg/models"
)

const defaultPingLimit = 1000

const pingColumns = `device_id, device_ip, packets_sent, packets_recv, loss_pct,
	min_rtt_ms, avg_rtt_ms, max_rtt_ms, reachable, timestamp`

const insertPingSQL = `INSERT INTO ping_results (` + pingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const latestPingSQL = `SELECT ` + pingColumns + ` FROM ping_results
	WHERE device_id = $1 ORDER BY timestamp DESC LIMIT 1`

const latestPingsSQL = `SELECT DISTINCT ON (device_id) ` + pingColumns + `
	FROM ping_results ORDER BY device_id, timestamp DESC`

const listPingsSQL = `SELECT ` + pingColumns + ` FROM ping_results
	WHERE device_id = $1 AND timestamp >= $2
	ORDER BY timestamp DESC LIMIT $3`

const deviceAvailabilitySQL = `SELECT
	COALESCE(100.0 * COUNT(*) FILTER (WHERE reachable) / NULLIF(COUNT(*), 0), 0)
	FROM ping_results WHERE device_id = $1 AND timestamp >= $2`

// InsertPingResult appends one probe measurement.
func (s *Store) InsertPingResult(ctx context.Context, p *models.PingResult) error {
	_, err := s.pool.Exec(ctx, insertPingSQL,
		p.DeviceID, p.DeviceIP, p.PacketsSent, p.PacketsRecv, p.LossPct,
		p.MinRTTMs, p.AvgRTTMs, p.MaxRTTMs, p.Reachable, p.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

// LatestPingResult returns the most recent measurement for a device.
func (s *Store) LatestPingResult(ctx context.Context, deviceID string) (*models.PingResult, error) {
	row := s.pool.QueryRow(ctx, latestPingSQL, deviceID)

	p, err := scanPing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return p, nil
}

// LatestPingResults returns the most recent measurement of every device in a
// single query, the alert engine's per-cycle batch.
func (s *Store) LatestPingResults(ctx context.Context) ([]*models.PingResult, error) {
	rows, err := s.pool.Query(ctx, latestPingsSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var results []*models.PingResult

	for rows.Next() {
		p, err := scanPing(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		results = append(results, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return results, nil
}

// ListPingResults returns the window of measurements since a cutoff, newest
// first.
func (s *Store) ListPingResults(ctx context.Context, deviceID string, since time.Time, limit int) ([]*models.PingResult, error) {
	if limit <= 0 {
		limit = defaultPingLimit
	}

	rows, err := s.pool.Query(ctx, listPingsSQL, deviceID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var results []*models.PingResult

	for rows.Next() {
		p, err := scanPing(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		results = append(results, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return results, nil
}

// DeviceAvailability computes the reachable percentage over a window. A device
// with no samples reports zero.
func (s *Store) DeviceAvailability(ctx context.Context, deviceID string, since time.Time) (float64, error) {
	var pct float64

	err := s.pool.QueryRow(ctx, deviceAvailabilitySQL, deviceID, since.UTC()).Scan(&pct)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return pct, nil
}

func scanPing(row rowScanner) (*models.PingResult, error) {
	var p models.PingResult

	err := row.Scan(&p.DeviceID, &p.DeviceIP, &p.PacketsSent, &p.PacketsRecv, &p.LossPct,
		&p.MinRTTMs, &p.AvgRTTMs, &p.MaxRTTMs, &p.Reachable, &p.Timestamp)
	if err != nil {
		return nil, err
	}

	return &p, nil
}
