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

package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

type fakeStore struct {
	mu       sync.Mutex
	states   []*db.DeviceState
	changes  []*models.StatusChange
	resolved []string
}

func (f *fakeStore) UpdateDeviceState(_ context.Context, s *db.DeviceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.states = append(f.states, s)

	return nil
}

func (f *fakeStore) InsertStatusChange(_ context.Context, sc *models.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.changes = append(f.changes, sc)

	return nil
}

func (f *fakeStore) ResolveDeviceAlerts(_ context.Context, deviceID string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolved = append(f.resolved, deviceID)

	return 1, nil
}

func rtt(v float64) *float64 { return &v }

func newUpDevice(id string, at time.Time) *models.Device {
	return &models.Device{ID: id, IP: "10.0.0.1", Enabled: true, LastCheck: &at}
}

func TestUpToDownSetsDownSince(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store, logger.NewTestLogger())

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	dev := newUpDevice("d1", base)

	var hooked []*models.StatusChange

	e.OnTransition(func(sc *models.StatusChange) { hooked = append(hooked, sc) })

	obsAt := base.Add(30 * time.Second)
	require.NoError(t, e.Apply(context.Background(), dev, Observation{Reachable: false, Timestamp: obsAt}))

	require.NotNil(t, dev.DownSince)
	assert.Equal(t, obsAt, *dev.DownSince)
	assert.Equal(t, models.DeviceStatusDown, dev.Status())

	require.Len(t, store.changes, 1)
	assert.Equal(t, models.DeviceStatusUp, store.changes[0].OldStatus)
	assert.Equal(t, models.DeviceStatusDown, store.changes[0].NewStatus)
	require.Len(t, hooked, 1)
	assert.Empty(t, store.resolved)
}

func TestDownToUpClearsAndResolves(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store, logger.NewTestLogger())

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	downAt := base.Add(-time.Hour)
	dev := newUpDevice("d1", base)
	dev.DownSince = &downAt

	obsAt := base.Add(30 * time.Second)
	require.NoError(t, e.Apply(context.Background(), dev, Observation{
		Reachable: true, RTTMs: rtt(12.5), Timestamp: obsAt,
	}))

	assert.Nil(t, dev.DownSince)
	assert.Equal(t, models.DeviceStatusUp, dev.Status())
	assert.Equal(t, []string{"d1"}, store.resolved)

	require.Len(t, store.changes, 1)
	assert.Equal(t, models.DeviceStatusDown, store.changes[0].OldStatus)
	assert.Equal(t, models.DeviceStatusUp, store.changes[0].NewStatus)
}

func TestFirstObservationMovesUnknownToUp(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store, logger.NewTestLogger())

	dev := &models.Device{ID: "d1", IP: "10.0.0.1", Enabled: true}
	obsAt := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, e.Apply(context.Background(), dev, Observation{Reachable: true, Timestamp: obsAt}))

	require.Len(t, store.changes, 1)
	assert.Equal(t, models.DeviceStatusUnknown, store.changes[0].OldStatus)
	assert.Equal(t, models.DeviceStatusUp, store.changes[0].NewStatus)
}

func TestOutOfOrderObservationDiscarded(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store, logger.NewTestLogger())

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	dev := newUpDevice("d1", base)

	require.NoError(t, e.Apply(context.Background(), dev, Observation{
		Reachable: false, Timestamp: base.Add(-time.Minute),
	}))

	assert.Nil(t, dev.DownSince)
	assert.Empty(t, store.states)
	assert.Empty(t, store.changes)
}

func TestReapplySameObservationIsNoOp(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store, logger.NewTestLogger())

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	dev := newUpDevice("d1", base)
	obs := Observation{Reachable: false, Timestamp: base.Add(30 * time.Second)}

	require.NoError(t, e.Apply(context.Background(), dev, obs))
	require.NoError(t, e.Apply(context.Background(), dev, obs))

	assert.Len(t, store.states, 1)
	assert.Len(t, store.changes, 1)
	assert.Equal(t, 1, dev.FlapCount)
}

func TestFlappingLatchesOnThirdTransition(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store, logger.NewTestLogger())

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	dev := newUpDevice("d1", base)

	steps := []struct {
		reachable bool
		offset    time.Duration
	}{
		{false, 30 * time.Second}, // transition 1
		{true, 60 * time.Second},  // transition 2
		{false, 90 * time.Second}, // transition 3: flapping
	}

	for _, s := range steps {
		require.NoError(t, e.Apply(context.Background(), dev, Observation{
			Reachable: s.reachable, Timestamp: base.Add(s.offset),
		}))
	}

	assert.True(t, dev.IsFlapping)
	assert.Equal(t, models.DeviceStatusFlapping, dev.Status())
	assert.Equal(t, 3, dev.FlapCount)
	require.NotNil(t, dev.FlappingSince)
	assert.Equal(t, base.Add(90*time.Second), *dev.FlappingSince)

	// The third transition is reported as entering flapping.
	last := store.changes[len(store.changes)-1]
	assert.Equal(t, models.DeviceStatusFlapping, last.NewStatus)
}

func TestFlappingClearsAfterQuietPeriod(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store, logger.NewTestLogger())

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	dev := newUpDevice("d1", base)

	offsets := []struct {
		reachable bool
		offset    time.Duration
	}{
		{false, 30 * time.Second},
		{true, 60 * time.Second},
		{false, 90 * time.Second},
		{true, 120 * time.Second},
	}

	for _, s := range offsets {
		require.NoError(t, e.Apply(context.Background(), dev, Observation{
			Reachable: s.reachable, Timestamp: base.Add(s.offset),
		}))
	}

	require.True(t, dev.IsFlapping)

	// Steady probes inside the quiet window keep the flag.
	require.NoError(t, e.Apply(context.Background(), dev, Observation{
		Reachable: true, Timestamp: base.Add(5 * time.Minute),
	}))
	assert.True(t, dev.IsFlapping)

	// First probe past the quiet window clears it.
	require.NoError(t, e.Apply(context.Background(), dev, Observation{
		Reachable: true, Timestamp: base.Add(13 * time.Minute),
	}))
	assert.False(t, dev.IsFlapping)
	assert.Nil(t, dev.FlappingSince)
	assert.Equal(t, models.DeviceStatusUp, dev.Status())
}

func TestForgetDropsTracking(t *testing.T) {
	store := &fakeStore{}
	e := NewEngine(store, logger.NewTestLogger())

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	dev := newUpDevice("d1", base)

	require.NoError(t, e.Apply(context.Background(), dev, Observation{
		Reachable: false, Timestamp: base.Add(30 * time.Second),
	}))

	e.Forget("d1")

	e.mu.Lock()
	_, ok := e.tracks["d1"]
	e.mu.Unlock()
	assert.False(t, ok)
}
