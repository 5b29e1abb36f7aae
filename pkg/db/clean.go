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
	"time"
)

const purgePingResultsSQL = `DELETE FROM ping_results WHERE timestamp < $1`

// Unresolved alerts are never purged regardless of age.
const purgeResolvedAlertsSQL = `DELETE FROM alert_history
	WHERE resolved_at IS NOT NULL AND resolved_at < $1`

// PurgePingResults removes measurements older than the cutoff.
func (s *Store) PurgePingResults(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, purgePingResultsSQL, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToDelete, err)
	}

	return tag.RowsAffected(), nil
}

// PurgeResolvedAlerts removes resolved alert rows older than the cutoff.
func (s *Store) PurgeResolvedAlerts(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, purgeResolvedAlertsSQL, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToDelete, err)
	}

	return tag.RowsAffected(), nil
}
