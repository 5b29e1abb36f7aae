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

// Package maintenance prunes aged telemetry and repairs alert invariants on a
// fixed cadence. Each task runs independently; one failing purge never blocks
// the others.
package maintenance

import (
	"context"
	"time"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

// Store is the persistence surface the janitor needs.
type Store interface {
	PurgePingResults(ctx context.Context, olderThan time.Time) (int64, error)
	PurgeResolvedAlerts(ctx context.Context, olderThan time.Time) (int64, error)
	ResolveDuplicateAlerts(ctx context.Context, at time.Time) (int64, error)
}

// Janitor enforces the retention horizons.
type Janitor struct {
	cfg    *models.RetentionConfig
	store  Store
	logger logger.Logger

	// clock is swappable in tests.
	clock func() time.Time
}

// New builds a Janitor from the retention configuration.
func New(cfg *models.RetentionConfig, store Store, log logger.Logger) *Janitor {
	return &Janitor{
		cfg:    cfg,
		store:  store,
		logger: log.WithComponent("maintenance"),
		clock:  time.Now,
	}
}

// Run sweeps once at startup, then on every interval until cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	j.sweep(ctx)

	ticker := time.NewTicker(time.Duration(j.cfg.Interval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// sweep runs all retention tasks for one cycle.
func (j *Janitor) sweep(ctx context.Context) {
	now := j.clock().UTC()

	if n, err := j.store.PurgePingResults(ctx, now.Add(-time.Duration(j.cfg.PingResults))); err != nil {
		j.logger.Error().Err(err).Msg("Failed to purge ping results")
	} else if n > 0 {
		j.logger.Info().Int64("rows", n).Msg("Purged aged ping results")
	}

	if n, err := j.store.PurgeResolvedAlerts(ctx, now.Add(-time.Duration(j.cfg.ResolvedAlerts))); err != nil {
		j.logger.Error().Err(err).Msg("Failed to purge resolved alerts")
	} else if n > 0 {
		j.logger.Info().Int64("rows", n).Msg("Purged aged resolved alerts")
	}

	// Repair: collapse any duplicate unresolved alerts that slipped past the
	// fingerprint check, keeping the newest row per fingerprint.
	if n, err := j.store.ResolveDuplicateAlerts(ctx, now); err != nil {
		j.logger.Error().Err(err).Msg("Failed to repair duplicate alerts")
	} else if n > 0 {
		j.logger.Warn().Int64("rows", n).Msg("Resolved duplicate unresolved alerts")
	}
}
