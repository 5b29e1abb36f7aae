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

// Package status owns the per-device liveness state machine. Probe results
// come in, committed transitions go out. Only ICMP observations are
// authoritative for UP/DOWN; SNMP failures never reach this engine.
package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

const (
	// flapWindow bounds how far back reachability transitions count toward
	// flap detection.
	flapWindow = 5 * time.Minute
	// flapThreshold is the transition count at which FLAPPING latches.
	flapThreshold = 3
	// flapQuiet is how long a device must hold steady before FLAPPING clears.
	flapQuiet = 10 * time.Minute
)

// Store is the persistence surface the engine needs.
type Store interface {
	UpdateDeviceState(ctx context.Context, s *db.DeviceState) error
	InsertStatusChange(ctx context.Context, sc *models.StatusChange) error
	ResolveDeviceAlerts(ctx context.Context, deviceID string, at time.Time) (int64, error)
}

// Hook observes committed transitions. Hooks run synchronously on the
// applying goroutine and must not block.
type Hook func(sc *models.StatusChange)

// Observation is one authoritative reachability measurement.
type Observation struct {
	Reachable bool
	RTTMs     *float64
	Timestamp time.Time
}

// Engine applies observations to devices, persists the resulting state and
// publishes committed transitions to hooks.
type Engine struct {
	store  Store
	logger logger.Logger

	mu     sync.Mutex
	tracks map[string]*track
	hooks  []Hook
}

// track is the in-memory flap bookkeeping for one device.
type track struct {
	lastApplied    time.Time
	lastTransition time.Time
	transitions    []time.Time
}

// NewEngine builds an Engine over the given store.
func NewEngine(store Store, log logger.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: log.WithComponent("status"),
		tracks: make(map[string]*track),
	}
}

// OnTransition registers a hook. Not safe to call after Apply is in use.
func (e *Engine) OnTransition(h Hook) {
	e.hooks = append(e.hooks, h)
}

// Apply folds one observation into the device's state. The device struct is
// mutated to the post-transition state. Out-of-order observations are
// discarded, and re-applying the same observation is a no-op, so crashed
// workers can safely retry.
func (e *Engine) Apply(ctx context.Context, dev *models.Device, obs Observation) error {
	e.mu.Lock()

	tr, ok := e.tracks[dev.ID]
	if !ok {
		tr = &track{}
		if dev.LastCheck != nil {
			tr.lastApplied = *dev.LastCheck
		}

		// After a restart the in-memory window is empty; seed the quiet
		// timer so a flapping device is not cleared on its first probe.
		if dev.FlappingSince != nil {
			tr.lastTransition = *dev.FlappingSince
		}

		e.tracks[dev.ID] = tr
	}

	if !obs.Timestamp.After(tr.lastApplied) {
		e.mu.Unlock()
		e.logger.Debug().
			Str("device_id", dev.ID).
			Time("observation", obs.Timestamp).
			Time("last_applied", tr.lastApplied).
			Msg("Discarding stale observation")

		return nil
	}

	tr.lastApplied = obs.Timestamp

	oldStatus := dev.Status()
	wasDown := dev.DownSince != nil

	ts := obs.Timestamp
	dev.LastCheck = &ts
	dev.LastRTTMs = obs.RTTMs

	transitioned := false

	switch {
	case !obs.Reachable && !wasDown:
		dev.DownSince = &ts
		transitioned = true
	case obs.Reachable && wasDown:
		dev.DownSince = nil
		transitioned = true
	}

	if transitioned {
		dev.FlapCount++

		tr.transitions = append(tr.transitions, ts)
		tr.lastTransition = ts
	}

	e.updateFlapping(dev, tr, ts)

	e.mu.Unlock()

	newStatus := dev.Status()

	state := &db.DeviceState{
		DeviceID:      dev.ID,
		DownSince:     dev.DownSince,
		IsFlapping:    dev.IsFlapping,
		FlapCount:     dev.FlapCount,
		FlappingSince: dev.FlappingSince,
		LastCheck:     ts,
		LastRTTMs:     dev.LastRTTMs,
	}

	if err := e.store.UpdateDeviceState(ctx, state); err != nil {
		return fmt.Errorf("persist device state: %w", err)
	}

	// Recovery closes the device's open alerts even when the presented
	// status stays FLAPPING; the next alerting cycle re-fires anything
	// still true.
	if obs.Reachable && wasDown {
		if n, err := e.store.ResolveDeviceAlerts(ctx, dev.ID, ts); err != nil {
			e.logger.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to auto-resolve alerts")
		} else if n > 0 {
			e.logger.Info().Str("device_id", dev.ID).Int64("resolved", n).Msg("Auto-resolved alerts on recovery")
		}
	}

	if newStatus == oldStatus {
		return nil
	}

	sc := &models.StatusChange{
		DeviceID:  dev.ID,
		IP:        dev.IP,
		Hostname:  dev.Hostname,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Timestamp: ts,
		RTTMs:     obs.RTTMs,
	}

	if err := e.store.InsertStatusChange(ctx, sc); err != nil {
		e.logger.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to record status change")
	}

	e.logger.Info().
		Str("device_id", dev.ID).
		Str("ip", dev.IP).
		Str("old", string(oldStatus)).
		Str("new", string(newStatus)).
		Msg("Device status changed")

	for _, h := range e.hooks {
		h(sc)
	}

	return nil
}

// updateFlapping latches FLAPPING on the third transition inside the window
// and clears it after a quiet period. Caller holds the mutex.
func (e *Engine) updateFlapping(dev *models.Device, tr *track, now time.Time) {
	cutoff := now.Add(-flapWindow)

	kept := tr.transitions[:0]

	for _, t := range tr.transitions {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	tr.transitions = kept

	if !dev.IsFlapping && len(tr.transitions) >= flapThreshold {
		dev.IsFlapping = true
		dev.FlappingSince = &now

		return
	}

	if dev.IsFlapping && now.Sub(tr.lastTransition) >= flapQuiet {
		dev.IsFlapping = false
		dev.FlappingSince = nil
	}
}

// Forget drops in-memory bookkeeping for a deleted device.
func (e *Engine) Forget(deviceID string) {
	e.mu.Lock()
	delete(e.tracks, deviceID)
	e.mu.Unlock()
}
