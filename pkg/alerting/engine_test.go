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

package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

type fakeStore struct {
	rules      []*models.AlertRule
	devices    []*models.Device
	open       []*models.AlertEvent
	pings      map[string]*models.PingResult
	values     map[string][]*models.SNMPValue
	interfaces map[string][]*models.Interface

	inserted []*models.AlertEvent
	resolved []string
}

func (f *fakeStore) ListRules(context.Context, bool) ([]*models.AlertRule, error) {
	return f.rules, nil
}

func (f *fakeStore) ListDevices(context.Context, db.DeviceFilter) ([]*models.Device, error) {
	return f.devices, nil
}

func (f *fakeStore) ListUnresolvedAlerts(context.Context) ([]*models.AlertEvent, error) {
	return f.open, nil
}

func (f *fakeStore) InsertAlert(_ context.Context, e *models.AlertEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	f.inserted = append(f.inserted, e)

	return nil
}

func (f *fakeStore) ResolveAlert(_ context.Context, id string, _ time.Time) error {
	f.resolved = append(f.resolved, id)
	return nil
}

func (f *fakeStore) LatestPingResults(context.Context) ([]*models.PingResult, error) {
	var out []*models.PingResult
	for _, p := range f.pings {
		out = append(out, p)
	}

	return out, nil
}

func (f *fakeStore) LatestItemValues(context.Context) ([]*models.SNMPValue, error) {
	var out []*models.SNMPValue
	for _, vs := range f.values {
		out = append(out, vs...)
	}

	return out, nil
}

func (f *fakeStore) ListEnabledInterfaces(context.Context) ([]*models.Interface, error) {
	var out []*models.Interface
	for _, ifaces := range f.interfaces {
		out = append(out, ifaces...)
	}

	return out, nil
}

func strPtr(s string) *string { return &s }

func upDevice(id, name string) *models.Device {
	now := time.Now().UTC()
	return &models.Device{ID: id, Name: name, IP: "10.0.0.1", Enabled: true, LastCheck: &now}
}

func downDevice(id, name string, since time.Time) *models.Device {
	d := upDevice(id, name)
	d.DownSince = &since

	return d
}

func TestBuiltInDownAlertWithoutRules(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		devices: []*models.Device{downDevice("d1", "core-sw", now.Add(-time.Minute))},
	}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	require.Len(t, store.inserted, 1)
	assert.Nil(t, store.inserted[0].RuleID)
	assert.Equal(t, "d1", store.inserted[0].DeviceID)
	assert.Equal(t, models.SeverityCritical, store.inserted[0].Severity)
}

func TestBuiltInFlappingAlertWithoutRules(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	dev := upDevice("d1", "core-sw")
	dev.IsFlapping = true

	store := &fakeStore{devices: []*models.Device{dev}}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	require.Len(t, store.inserted, 1)
	assert.Nil(t, store.inserted[0].RuleID)
	assert.Equal(t, "d1", store.inserted[0].DeviceID)
	assert.Equal(t, models.SeverityHigh, store.inserted[0].Severity)
	assert.Contains(t, store.inserted[0].Message, "flapping")
}

func TestFlappingClearedResolvesBuiltInAlert(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		devices: []*models.Device{upDevice("d1", "core-sw")},
		open: []*models.AlertEvent{{
			ID:          "a1",
			DeviceID:    "d1",
			Severity:    models.SeverityHigh,
			TriggeredAt: now.Add(-15 * time.Minute),
		}},
	}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	assert.Empty(t, store.inserted)
	assert.Equal(t, []string{"a1"}, store.resolved)
}

func TestDownOutranksFlappingForPingOnlySlot(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	dev := downDevice("d1", "core-sw", now.Add(-time.Minute))
	dev.IsFlapping = true

	store := &fakeStore{devices: []*models.Device{dev}}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	// One ping-only slot per device: the down alert claims it.
	require.Len(t, store.inserted, 1)
	assert.Equal(t, models.SeverityCritical, store.inserted[0].Severity)
}

func TestDedupKeepsSingleUnresolvedAlert(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	existing := &models.AlertEvent{
		ID:          "a1",
		DeviceID:    "d1",
		Severity:    models.SeverityCritical,
		TriggeredAt: now.Add(-5 * time.Minute),
	}
	store := &fakeStore{
		devices: []*models.Device{downDevice("d1", "core-sw", now.Add(-10*time.Minute))},
		open:    []*models.AlertEvent{existing},
	}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	assert.Empty(t, store.inserted, "open fingerprint must not fire again")
	assert.Empty(t, store.resolved)
}

func TestConditionClearedResolvesAlert(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	ruleID := "r1"
	existing := &models.AlertEvent{
		ID:          "a1",
		RuleID:      &ruleID,
		DeviceID:    "d1",
		Severity:    models.SeverityHigh,
		TriggeredAt: now.Add(-5 * time.Minute),
	}
	store := &fakeStore{
		rules: []*models.AlertRule{{
			ID: ruleID, Name: "latency", Expression: "high_latency(100)",
			Severity: models.SeverityHigh, Enabled: true,
		}},
		devices: []*models.Device{upDevice("d1", "core-sw")},
		pings: map[string]*models.PingResult{
			"d1": {DeviceID: "d1", Reachable: true, AvgRTTMs: 20},
		},
		open: []*models.AlertEvent{existing},
	}

	var resolvedHook []*models.AlertEvent

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	e.OnResolved(func(a *models.AlertEvent) { resolvedHook = append(resolvedHook, a) })

	require.NoError(t, e.RunCycle(context.Background(), now))

	assert.Equal(t, []string{"a1"}, store.resolved)
	require.Len(t, resolvedHook, 1)
	assert.NotNil(t, resolvedHook[0].ResolvedAt)
}

func TestHighLatencyFires(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		rules: []*models.AlertRule{{
			ID: "r1", Name: "latency", Expression: "high_latency(100)",
			Severity: models.SeverityHigh, Enabled: true,
		}},
		devices: []*models.Device{upDevice("d1", "core-sw")},
		pings: map[string]*models.PingResult{
			"d1": {DeviceID: "d1", Reachable: true, AvgRTTMs: 250.5},
		},
	}

	var fired []*models.AlertEvent

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	e.OnFired(func(a *models.AlertEvent) { fired = append(fired, a) })

	require.NoError(t, e.RunCycle(context.Background(), now))

	require.Len(t, store.inserted, 1)
	require.NotNil(t, store.inserted[0].Value)
	assert.InDelta(t, 250.5, *store.inserted[0].Value, 0.001)
	assert.Len(t, fired, 1)
}

func TestLatencyAndLossThresholdsAreInclusive(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		rules: []*models.AlertRule{
			{ID: "r1", Name: "latency", Expression: "high_latency(150)",
				Severity: models.SeverityHigh, Enabled: true},
			{ID: "r2", Name: "loss", Expression: "packet_loss(20)",
				Severity: models.SeverityMedium, Enabled: true},
		},
		devices: []*models.Device{upDevice("d1", "core-sw")},
		pings: map[string]*models.PingResult{
			"d1": {DeviceID: "d1", Reachable: true, AvgRTTMs: 150, LossPct: 20},
		},
	}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	// Exactly at the threshold fires for both conditions.
	assert.Len(t, store.inserted, 2)
}

func TestDeviceDownForRespectsDuration(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	rule := &models.AlertRule{
		ID: "r1", Name: "down 5m", Expression: "device_down_for(300)",
		Severity: models.SeverityCritical, Enabled: true,
	}

	// Down for 2 minutes: built-in fires, the rule does not.
	store := &fakeStore{
		rules:   []*models.AlertRule{rule},
		devices: []*models.Device{downDevice("d1", "core-sw", now.Add(-2*time.Minute))},
	}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	require.Len(t, store.inserted, 1)
	assert.Nil(t, store.inserted[0].RuleID)

	// Down for 10 minutes: both fingerprints are open.
	store = &fakeStore{
		rules:   []*models.AlertRule{rule},
		devices: []*models.Device{downDevice("d1", "core-sw", now.Add(-10*time.Minute))},
	}

	e = NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	assert.Len(t, store.inserted, 2)
}

func TestUnparseableRuleSkipped(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		rules: []*models.AlertRule{
			{ID: "bad", Name: "bad", Expression: "explode(9000)", Severity: models.SeverityLow, Enabled: true},
			{ID: "good", Name: "flap", Expression: "flapping", Severity: models.SeverityMedium, Enabled: true},
		},
		devices: func() []*models.Device {
			d := upDevice("d1", "core-sw")
			d.IsFlapping = true

			return []*models.Device{d}
		}(),
	}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	require.Len(t, store.inserted, 1)
	assert.Equal(t, "good", *store.inserted[0].RuleID)
}

func TestISPLinkDownScopedByProvider(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		rules: []*models.AlertRule{{
			ID: "r1", Name: "telmex down", Expression: "isp_link_down(telmex)",
			Severity: models.SeverityCritical, Enabled: true,
		}},
		devices: []*models.Device{upDevice("d1", "edge-rtr")},
		interfaces: map[string][]*models.Interface{
			"d1": {
				{DeviceID: "d1", IfIndex: 1, IfName: "Gi0/0", Class: models.IfClassISP,
					Provider: "telmex", AdminStatus: models.IfStatusUp, OperStatus: models.IfStatusDown},
				{DeviceID: "d1", IfIndex: 2, IfName: "Gi0/1", Class: models.IfClassISP,
					Provider: "izzi", AdminStatus: models.IfStatusUp, OperStatus: models.IfStatusDown},
			},
		},
	}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	require.Len(t, store.inserted, 1)
	require.NotNil(t, store.inserted[0].InterfaceID)
	assert.Equal(t, int64(1), *store.inserted[0].InterfaceID)
	assert.Equal(t, "telmex", store.inserted[0].Provider)
}

func TestMetricThreshold(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	cpu := int64(95)
	store := &fakeStore{
		rules: []*models.AlertRule{{
			ID: "r1", Name: "cpu", Expression: "metric_threshold(cpu_util > 90)",
			Severity: models.SeverityHigh, Enabled: true,
		}},
		devices: []*models.Device{upDevice("d1", "core-sw")},
		values: map[string][]*models.SNMPValue{
			"d1": {{DeviceID: "d1", ItemID: "i1", Name: "cpu_util",
				ValueType: models.ValueTypeInteger, IntVal: &cpu}},
		},
	}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	require.Len(t, store.inserted, 1)
	require.NotNil(t, store.inserted[0].Value)
	assert.InDelta(t, 95, *store.inserted[0].Value, 0.001)
}

func TestKickRunsCycleAheadOfCadence(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeStore{
		devices: []*models.Device{downDevice("d1", "core-sw", now.Add(-time.Minute))},
	}

	fired := make(chan *models.AlertEvent, 1)

	// An hour cadence so only the kick can trigger the cycle.
	e := NewEngine(store, time.Hour, logger.NewTestLogger())
	e.OnFired(func(a *models.AlertEvent) { fired <- a })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Repeated kicks coalesce and never block.
	e.Kick()
	e.Kick()
	e.Kick()

	select {
	case a := <-fired:
		assert.Equal(t, "d1", a.DeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("kick did not trigger an evaluation cycle")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRuleScopedToDevice(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		rules: []*models.AlertRule{{
			ID: "r1", Name: "flap d2 only", Expression: "flapping",
			Severity: models.SeverityMedium, Enabled: true, DeviceID: strPtr("d2"),
		}},
		devices: func() []*models.Device {
			d1 := upDevice("d1", "sw1")
			d1.IsFlapping = true
			d2 := upDevice("d2", "sw2")
			d2.IsFlapping = true

			return []*models.Device{d1, d2}
		}(),
	}

	e := NewEngine(store, time.Minute, logger.NewTestLogger())
	require.NoError(t, e.RunCycle(context.Background(), now))

	require.Len(t, store.inserted, 1)
	assert.Equal(t, "d2", store.inserted[0].DeviceID)
}
