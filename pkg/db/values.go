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

// Latest polled SNMP values live here for threshold evaluation; full history
// goes to the time-series backend.
const upsertItemValueSQL = `INSERT INTO monitoring_item_values
	(item_id, device_id, oid, name, value_type, int_val, float_val, str_val, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (item_id) DO UPDATE SET
		int_val = EXCLUDED.int_val,
		float_val = EXCLUDED.float_val,
		str_val = EXCLUDED.str_val,
		timestamp = EXCLUDED.timestamp`

const latestItemValuesSQL = `SELECT item_id, device_id, oid, name, value_type,
	int_val, float_val, str_val, timestamp
	FROM monitoring_item_values`

// UpsertItemValue stores the newest sample for a monitoring item.
func (s *Store) UpsertItemValue(ctx context.Context, v *models.SNMPValue) error {
	_, err := s.pool.Exec(ctx, upsertItemValueSQL,
		v.ItemID, v.DeviceID, v.OID, v.Name, v.ValueType,
		v.IntVal, v.FloatVal, v.StrVal, v.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

// LatestItemValues returns the last sample of every item across the fleet.
// The table keeps latest-only rows, so this is one bounded scan; callers
// bucket by device.
func (s *Store) LatestItemValues(ctx context.Context) ([]*models.SNMPValue, error) {
	rows, err := s.pool.Query(ctx, latestItemValuesSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var values []*models.SNMPValue

	for rows.Next() {
		var v models.SNMPValue

		if err := rows.Scan(&v.ItemID, &v.DeviceID, &v.OID, &v.Name, &v.ValueType,
			&v.IntVal, &v.FloatVal, &v.StrVal, &v.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		values = append(values, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return values, nil
}
