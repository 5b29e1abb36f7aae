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

package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

type fakeStore struct {
	pingCutoff  time.Time
	alertCutoff time.Time
	repairAt    time.Time

	pingErr error

	purgedPings  int64
	purgedAlerts int64
	repaired     int64
}

func (f *fakeStore) PurgePingResults(_ context.Context, olderThan time.Time) (int64, error) {
	f.pingCutoff = olderThan
	if f.pingErr != nil {
		return 0, f.pingErr
	}

	return f.purgedPings, nil
}

func (f *fakeStore) PurgeResolvedAlerts(_ context.Context, olderThan time.Time) (int64, error) {
	f.alertCutoff = olderThan
	return f.purgedAlerts, nil
}

func (f *fakeStore) ResolveDuplicateAlerts(_ context.Context, at time.Time) (int64, error) {
	f.repairAt = at
	return f.repaired, nil
}

func testRetention() *models.RetentionConfig {
	return &models.RetentionConfig{
		PingResults:    models.Duration(90 * 24 * time.Hour),
		ResolvedAlerts: models.Duration(365 * 24 * time.Hour),
		Interval:       models.Duration(time.Hour),
	}
}

func TestSweepUsesRetentionHorizons(t *testing.T) {
	store := &fakeStore{purgedPings: 10, purgedAlerts: 3, repaired: 1}

	j := New(testRetention(), store, logger.NewTestLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.clock = func() time.Time { return now }

	j.sweep(context.Background())

	assert.Equal(t, now.Add(-90*24*time.Hour), store.pingCutoff)
	assert.Equal(t, now.Add(-365*24*time.Hour), store.alertCutoff)
	assert.Equal(t, now, store.repairAt)
}

func TestSweepContinuesPastFailure(t *testing.T) {
	store := &fakeStore{pingErr: errors.New("table locked")}

	j := New(testRetention(), store, logger.NewTestLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.clock = func() time.Time { return now }

	j.sweep(context.Background())

	// The ping purge failed but the other tasks still ran.
	assert.Equal(t, now.Add(-365*24*time.Hour), store.alertCutoff)
	assert.Equal(t, now, store.repairAt)
}

func TestRunSweepsOnStartupAndStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	j := New(testRetention(), store, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := j.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.False(t, store.repairAt.IsZero(), "startup sweep ran before exit")
}
