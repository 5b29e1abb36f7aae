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

// Package scheduler drives the probing pipeline: a coarse one-second tick
// finds due work, a bounded worker pool executes it. At most one job per
// (device, kind) is in flight, so a slow device can never stack probes.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
	"github.com/carverauto/netwatch/pkg/probe"
	"github.com/carverauto/netwatch/pkg/status"
)

const (
	tickInterval    = time.Second
	registryRefresh = 15 * time.Second
	scanInterval    = time.Hour
)

type jobKind string

const (
	kindPing jobKind = "ping"
	kindPoll jobKind = "poll"
	kindScan jobKind = "scan"
)

type job struct {
	kind   jobKind
	device *models.Device
	item   *models.MonitoringItem
}

func (j *job) key() string {
	k := j.device.ID + "/" + string(j.kind)
	if j.item != nil {
		k += "/" + j.item.ID
	}

	return k
}

// Store is the persistence surface the scheduler needs.
type Store interface {
	ListDevices(ctx context.Context, f db.DeviceFilter) ([]*models.Device, error)
	ListEnabledItems(ctx context.Context) ([]*models.MonitoringItem, error)
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	GetCredential(ctx context.Context, deviceID string) (*models.SNMPCredential, error)
	InsertPingResult(ctx context.Context, p *models.PingResult) error
	UpsertItemValue(ctx context.Context, v *models.SNMPValue) error
	UpsertInterfaces(ctx context.Context, deviceID string, ifaces []*models.Interface) error
	SetCredentialError(ctx context.Context, deviceID string, flagged bool) error
}

// Prober issues ICMP bursts.
type Prober interface {
	Probe(ctx context.Context, addr string) (*probe.Result, error)
}

// Sink receives telemetry samples.
type Sink interface {
	Enqueue(s *models.Sample)
}

// Health is a point-in-time snapshot of pipeline state.
type Health struct {
	QueueDepth   int       `json:"queue_depth"`
	QueueCap     int       `json:"queue_cap"`
	Workers      int       `json:"workers"`
	Inflight     int       `json:"inflight"`
	DroppedPings int64     `json:"dropped_pings"`
	LastTick     time.Time `json:"last_tick"`
	Devices      int       `json:"devices"`
	Items        int       `json:"items"`
}

// Scheduler owns the tick loop, the queue and the workers.
type Scheduler struct {
	cfg       *models.SchedulerConfig
	store     Store
	prober    Prober
	snmp      *snmpRunner
	engine    *status.Engine
	telemetry Sink
	logger    logger.Logger

	queue chan *job

	mu       sync.Mutex
	inflight map[string]struct{}
	lastRun  map[string]time.Time

	devices []*models.Device
	items   []*models.MonitoringItem

	lastRefresh  time.Time
	lastTick     atomic.Value // time.Time
	droppedPings atomic.Int64

	// clock is swappable in tests.
	clock func() time.Time
}

// SNMPDeps bundles the poll-side collaborators.
type SNMPDeps struct {
	Factory ClientFactory
}

// New wires the scheduler. The SNMP factory may be nil, which disables
// polling and scanning.
func New(cfg *models.SchedulerConfig, store Store, prober Prober, factory ClientFactory,
	engine *status.Engine, sink Sink, log logger.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		prober:    prober,
		snmp:      newSNMPRunner(factory, store, sink, log),
		engine:    engine,
		telemetry: sink,
		logger:    log.WithComponent("scheduler"),
		queue:     make(chan *job, cfg.QueueSize),
		inflight:  make(map[string]struct{}),
		lastRun:   make(map[string]time.Time),
		clock:     time.Now,
	}
}

// Run starts the workers and ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick refreshes the registry when stale and enqueues all due work.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock().UTC()
	s.lastTick.Store(now)

	if s.lastRefresh.IsZero() || now.Sub(s.lastRefresh) >= registryRefresh {
		s.refresh(ctx, now)
	}

	s.mu.Lock()
	devices := s.devices
	items := s.items
	s.mu.Unlock()

	pingEvery := time.Duration(s.cfg.PingInterval)

	for _, dev := range devices {
		if s.due(kindPing, dev.ID, "", now, pingEvery) {
			s.enqueue(&job{kind: kindPing, device: dev}, now)
		}

		if s.snmp.enabled() && s.due(kindScan, dev.ID, "", now, scanInterval) {
			s.enqueue(&job{kind: kindScan, device: dev}, now)
		}
	}

	if s.snmp.enabled() {
		byDevice := make(map[string]*models.Device, len(devices))
		for _, dev := range devices {
			byDevice[dev.ID] = dev
		}

		for _, item := range items {
			dev, ok := byDevice[item.DeviceID]
			if !ok {
				continue
			}

			every := time.Duration(item.IntervalSeconds) * time.Second
			if s.due(kindPoll, dev.ID, item.ID, now, every) {
				s.enqueue(&job{kind: kindPoll, device: dev, item: item}, now)
			}
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context, now time.Time) {
	devices, err := s.store.ListDevices(ctx, db.DeviceFilter{EnabledOnly: true})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh device registry")
		return
	}

	items, err := s.store.ListEnabledItems(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh monitoring items")
		return
	}

	s.mu.Lock()
	s.devices = devices
	s.items = items
	s.mu.Unlock()

	s.lastRefresh = now
}

// due reports whether a (device, kind, item) slot is due and not already
// queued or running.
func (s *Scheduler) due(kind jobKind, deviceID, itemID string, now time.Time, every time.Duration) bool {
	key := deviceID + "/" + string(kind)
	if itemID != "" {
		key += "/" + itemID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[key]; busy {
		return false
	}

	last, ok := s.lastRun[key]
	if ok && now.Sub(last) < every {
		return false
	}

	return true
}

// enqueue submits a job without blocking the tick. Ping jobs are shed once
// the queue passes the high-water mark; the next interval supersedes them
// anyway. Poll and scan jobs are shed only when the queue is full.
func (s *Scheduler) enqueue(j *job, now time.Time) {
	if j.kind == kindPing && len(s.queue) >= s.cfg.HighWaterMark {
		s.droppedPings.Add(1)
		s.logger.Warn().
			Str("device_id", j.device.ID).
			Int("queue_depth", len(s.queue)).
			Msg("Queue past high-water mark, shedding ping")

		return
	}

	key := j.key()

	s.mu.Lock()
	s.inflight[key] = struct{}{}
	s.lastRun[key] = now
	s.mu.Unlock()

	select {
	case s.queue <- j:
	default:
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()

		if j.kind == kindPing {
			s.droppedPings.Add(1)
		}

		s.logger.Warn().Str("key", key).Msg("Queue full, dropping job")
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.execute(ctx, j)

			s.mu.Lock()
			delete(s.inflight, j.key())
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	switch j.kind {
	case kindPing:
		s.runPing(ctx, j.device)
	case kindPoll:
		s.snmp.poll(ctx, j.device, j.item)
	case kindScan:
		s.snmp.scan(ctx, j.device)
	}
}

// runPing probes one device and applies the observation. A probe error means
// we could not measure; the device keeps its previous state.
func (s *Scheduler) runPing(ctx context.Context, dev *models.Device) {
	now := s.clock().UTC()

	res, err := s.prober.Probe(ctx, dev.IP)
	if err != nil {
		s.logger.Warn().Err(err).Str("device_id", dev.ID).Str("ip", dev.IP).
			Msg("Probe unavailable, keeping previous state")

		return
	}

	// Re-read so the state machine sees current state, and so results for a
	// device disabled or deleted mid-flight are discarded.
	current, err := s.store.GetDevice(ctx, dev.ID)
	if err != nil || !current.Enabled {
		return
	}

	ping := &models.PingResult{
		DeviceID:    current.ID,
		DeviceIP:    current.IP,
		PacketsSent: res.PacketsSent,
		PacketsRecv: res.PacketsRecv,
		LossPct:     res.LossPct,
		MinRTTMs:    res.MinRTTMs,
		AvgRTTMs:    res.AvgRTTMs,
		MaxRTTMs:    res.MaxRTTMs,
		Reachable:   res.Reachable,
		Timestamp:   now,
	}

	if err := s.store.InsertPingResult(ctx, ping); err != nil {
		s.logger.Error().Err(err).Str("device_id", current.ID).Msg("Failed to store ping result")
	}

	labels := map[string]string{"device_id": current.ID, "ip": current.IP}

	s.telemetry.Enqueue(&models.Sample{Metric: "ping_loss_pct", Labels: labels, Value: res.LossPct, Timestamp: now})

	obs := status.Observation{Reachable: res.Reachable, Timestamp: now}
	if res.Reachable {
		rtt := res.AvgRTTMs
		obs.RTTMs = &rtt

		s.telemetry.Enqueue(&models.Sample{Metric: "ping_rtt_ms", Labels: labels, Value: res.AvgRTTMs, Timestamp: now})
	}

	if err := s.engine.Apply(ctx, current, obs); err != nil {
		s.logger.Error().Err(err).Str("device_id", current.ID).Msg("Failed to apply observation")
	}
}

// Health reports pipeline state for the health endpoint.
func (s *Scheduler) Health() Health {
	s.mu.Lock()
	inflight := len(s.inflight)
	devices := len(s.devices)
	items := len(s.items)
	s.mu.Unlock()

	h := Health{
		QueueDepth:   len(s.queue),
		QueueCap:     cap(s.queue),
		Workers:      s.cfg.Workers,
		Inflight:     inflight,
		DroppedPings: s.droppedPings.Load(),
		Devices:      devices,
		Items:        items,
	}

	if t, ok := s.lastTick.Load().(time.Time); ok {
		h.LastTick = t
	}

	return h
}
