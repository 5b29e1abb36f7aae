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

// Package alerting evaluates alert rules against the current fleet state on a
// fixed cadence. Each cycle computes the set of conditions that should be
// active, opens missing alerts and resolves ones whose condition cleared,
// keeping at most one unresolved alert per (rule, device, interface).
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

// Store is the persistence surface the engine needs.
type Store interface {
	ListRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error)
	ListDevices(ctx context.Context, f db.DeviceFilter) ([]*models.Device, error)
	ListUnresolvedAlerts(ctx context.Context) ([]*models.AlertEvent, error)
	InsertAlert(ctx context.Context, e *models.AlertEvent) error
	ResolveAlert(ctx context.Context, id string, at time.Time) error
	LatestPingResults(ctx context.Context) ([]*models.PingResult, error)
	LatestItemValues(ctx context.Context) ([]*models.SNMPValue, error)
	ListEnabledInterfaces(ctx context.Context) ([]*models.Interface, error)
}

// Hook observes alert lifecycle events. Hooks run synchronously on the
// evaluation goroutine.
type Hook func(e *models.AlertEvent)

// Engine runs the evaluation loop.
type Engine struct {
	store   Store
	logger  logger.Logger
	cadence time.Duration

	onFired    []Hook
	onResolved []Hook

	kick chan struct{}
}

// NewEngine builds an Engine evaluating every cadence.
func NewEngine(store Store, cadence time.Duration, log logger.Logger) *Engine {
	if cadence <= 0 {
		cadence = time.Minute
	}

	return &Engine{
		store:   store,
		cadence: cadence,
		logger:  log.WithComponent("alerting"),
		kick:    make(chan struct{}, 1),
	}
}

// Kick requests an evaluation ahead of the cadence, typically on a committed
// status transition. Coalesces while a cycle is pending; never blocks.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// OnFired registers a hook for newly opened alerts.
func (e *Engine) OnFired(h Hook) { e.onFired = append(e.onFired, h) }

// OnResolved registers a hook for alerts resolved by rule evaluation.
func (e *Engine) OnResolved(h Hook) { e.onResolved = append(e.onResolved, h) }

// Run evaluates until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.RunCycle(ctx, time.Now().UTC()); err != nil {
				e.logger.Error().Err(err).Msg("Alert evaluation cycle failed")
			}
		case <-e.kick:
			if err := e.RunCycle(ctx, time.Now().UTC()); err != nil {
				e.logger.Error().Err(err).Msg("Alert evaluation cycle failed")
			}
		}
	}
}

// RunCycle performs one full evaluation pass. A failing rule only loses its
// own evaluation; the rest of the cycle proceeds.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) error {
	rules, err := e.store.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	devices, err := e.store.ListDevices(ctx, db.DeviceFilter{EnabledOnly: true})
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}

	open, err := e.store.ListUnresolvedAlerts(ctx)
	if err != nil {
		return fmt.Errorf("load open alerts: %w", err)
	}

	openByFP := make(map[models.AlertFingerprint]*models.AlertEvent, len(open))
	for _, a := range open {
		openByFP[a.Fingerprint()] = a
	}

	cycle, err := loadCycleData(ctx, e.store)
	if err != nil {
		return err
	}

	desired := make(map[models.AlertFingerprint]*models.AlertEvent)

	// Built-in safety nets: flapping and down devices always carry an open
	// ping-only alert, rule or no rule. Both target the (nil rule, device,
	// nil interface) slot, and down outranks flapping for it.
	for _, dev := range devices {
		if dev.IsFlapping {
			ev := &models.AlertEvent{
				DeviceID:    dev.ID,
				Severity:    models.SeverityHigh,
				Message:     fmt.Sprintf("Device %s (%s) is flapping", dev.Name, dev.IP),
				TriggeredAt: now,
				Metadata:    map[string]string{"condition": string(CondFlapping)},
			}

			desired[ev.Fingerprint()] = ev
		}

		if dev.DownSince != nil {
			ev := &models.AlertEvent{
				DeviceID:    dev.ID,
				Severity:    models.SeverityCritical,
				Message:     fmt.Sprintf("Device %s (%s) is down", dev.Name, dev.IP),
				TriggeredAt: now,
				Metadata:    map[string]string{"condition": string(CondDeviceDown)},
			}

			desired[ev.Fingerprint()] = ev
		}
	}

	for _, rule := range rules {
		cond, err := ParseExpression(rule.Expression)
		if err != nil {
			e.logger.Warn().
				Err(err).
				Str("rule_id", rule.ID).
				Str("expression", rule.Expression).
				Msg("Skipping unparseable alert rule")

			continue
		}

		for _, ev := range e.evaluateRule(rule, cond, scopeDevices(rule, devices), cycle, now) {
			desired[ev.Fingerprint()] = ev
		}
	}

	// Open what should be open.
	for fp, ev := range desired {
		if _, exists := openByFP[fp]; exists {
			continue
		}

		if err := e.store.InsertAlert(ctx, ev); err != nil {
			e.logger.Error().Err(err).Str("device_id", ev.DeviceID).Msg("Failed to open alert")
			continue
		}

		e.logger.Info().
			Str("device_id", ev.DeviceID).
			Str("severity", string(ev.Severity)).
			Str("message", ev.Message).
			Msg("Alert opened")

		for _, h := range e.onFired {
			h(ev)
		}
	}

	// Close what cleared. Alerts for deleted or disabled rules clear too:
	// nothing desires their fingerprint anymore.
	for fp, a := range openByFP {
		if _, still := desired[fp]; still {
			continue
		}

		if err := e.store.ResolveAlert(ctx, a.ID, now); err != nil {
			e.logger.Error().Err(err).Str("alert_id", a.ID).Msg("Failed to resolve alert")
			continue
		}

		resolvedAt := now
		a.ResolvedAt = &resolvedAt

		e.logger.Info().Str("alert_id", a.ID).Str("device_id", a.DeviceID).Msg("Alert resolved")

		for _, h := range e.onResolved {
			h(a)
		}
	}

	return nil
}

// scopeDevices narrows the fleet to the rule's scope.
func scopeDevices(rule *models.AlertRule, devices []*models.Device) []*models.Device {
	if rule.DeviceID == nil && rule.BranchID == nil {
		return devices
	}

	var scoped []*models.Device

	for _, dev := range devices {
		if rule.DeviceID != nil && dev.ID != *rule.DeviceID {
			continue
		}

		if rule.BranchID != nil && (dev.BranchID == nil || *dev.BranchID != *rule.BranchID) {
			continue
		}

		scoped = append(scoped, dev)
	}

	return scoped
}

func (e *Engine) evaluateRule(rule *models.AlertRule, cond *Condition,
	devices []*models.Device, cycle *cycleData, now time.Time) []*models.AlertEvent {
	var events []*models.AlertEvent

	emit := func(dev *models.Device, msg string, value *float64, ifaceID *int64, provider string) {
		ruleID := rule.ID

		events = append(events, &models.AlertEvent{
			RuleID:      &ruleID,
			DeviceID:    dev.ID,
			InterfaceID: ifaceID,
			Severity:    rule.Severity,
			Message:     msg,
			Value:       value,
			Provider:    provider,
			TriggeredAt: now,
			Metadata:    map[string]string{"condition": string(cond.Kind), "rule": rule.Name},
		})
	}

	for _, dev := range devices {
		switch cond.Kind {
		case CondDeviceDown:
			if dev.DownSince != nil {
				emit(dev, fmt.Sprintf("Device %s (%s) is down", dev.Name, dev.IP), nil, nil, "")
			}

		case CondDeviceDownFor:
			if dev.DownSince != nil && now.Sub(*dev.DownSince) >= cond.Duration {
				emit(dev, fmt.Sprintf("Device %s (%s) down for more than %s",
					dev.Name, dev.IP, cond.Duration), nil, nil, "")
			}

		case CondFlapping:
			if dev.IsFlapping {
				emit(dev, fmt.Sprintf("Device %s (%s) is flapping", dev.Name, dev.IP), nil, nil, "")
			}

		case CondHighLatency:
			ping := cycle.latestPing(dev.ID)
			if ping != nil && ping.Reachable && ping.AvgRTTMs >= cond.Threshold {
				v := ping.AvgRTTMs
				emit(dev, fmt.Sprintf("Device %s (%s) latency %.1fms exceeds %.0fms",
					dev.Name, dev.IP, v, cond.Threshold), &v, nil, "")
			}

		case CondPacketLoss:
			ping := cycle.latestPing(dev.ID)
			if ping != nil && ping.Reachable && ping.LossPct >= cond.Threshold {
				v := ping.LossPct
				emit(dev, fmt.Sprintf("Device %s (%s) packet loss %.0f%% exceeds %.0f%%",
					dev.Name, dev.IP, v, cond.Threshold), &v, nil, "")
			}

		case CondInterfaceOperDown:
			for _, iface := range cycle.interfaces(dev.ID) {
				if !cond.Pattern.MatchString(iface.IfName) && !cond.Pattern.MatchString(iface.IfAlias) {
					continue
				}

				if iface.AdminStatus == models.IfStatusUp && iface.OperStatus != models.IfStatusUp {
					ifIndex := iface.IfIndex
					emit(dev, fmt.Sprintf("Interface %s on %s (%s) is down",
						iface.IfName, dev.Name, dev.IP), nil, &ifIndex, iface.Provider)
				}
			}

		case CondISPLinkDown:
			for _, iface := range cycle.ispInterfaces() {
				if iface.DeviceID != dev.ID {
					continue
				}

				if cond.Provider != "" && iface.Provider != cond.Provider {
					continue
				}

				if iface.AdminStatus == models.IfStatusUp && iface.OperStatus != models.IfStatusUp {
					ifIndex := iface.IfIndex
					emit(dev, fmt.Sprintf("ISP link %s (%s) on %s is down",
						iface.IfName, iface.Provider, dev.Name), nil, &ifIndex, iface.Provider)
				}
			}

		case CondMetricThreshold:
			for _, sample := range cycle.itemValues(dev.ID) {
				if sample.Name != cond.Metric {
					continue
				}

				f, ok := sample.Float()
				if !ok {
					continue
				}

				if compare(f, cond.Op, cond.Value) {
					v := f
					emit(dev, fmt.Sprintf("Metric %s on %s is %.2f (%s %.2f)",
						cond.Metric, dev.Name, f, cond.Op, cond.Value), &v, nil, "")
				}
			}
		}
	}

	return events
}

// cycleData is the telemetry working set for one evaluation cycle, fetched in
// three batch queries up front and bucketed by device in memory. Rules never
// touch the database individually.
type cycleData struct {
	pings  map[string]*models.PingResult
	values map[string][]*models.SNMPValue
	ifaces map[string][]*models.Interface
	isp    []*models.Interface
}

func loadCycleData(ctx context.Context, store Store) (*cycleData, error) {
	pings, err := store.LatestPingResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("load latest pings: %w", err)
	}

	values, err := store.LatestItemValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("load item values: %w", err)
	}

	ifaces, err := store.ListEnabledInterfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("load interfaces: %w", err)
	}

	c := &cycleData{
		pings:  make(map[string]*models.PingResult, len(pings)),
		values: make(map[string][]*models.SNMPValue),
		ifaces: make(map[string][]*models.Interface),
	}

	for _, p := range pings {
		c.pings[p.DeviceID] = p
	}

	for _, v := range values {
		c.values[v.DeviceID] = append(c.values[v.DeviceID], v)
	}

	for _, iface := range ifaces {
		c.ifaces[iface.DeviceID] = append(c.ifaces[iface.DeviceID], iface)

		if iface.Class == models.IfClassISP {
			c.isp = append(c.isp, iface)
		}
	}

	return c, nil
}

func (c *cycleData) latestPing(deviceID string) *models.PingResult  { return c.pings[deviceID] }
func (c *cycleData) itemValues(deviceID string) []*models.SNMPValue { return c.values[deviceID] }
func (c *cycleData) interfaces(deviceID string) []*models.Interface { return c.ifaces[deviceID] }
func (c *cycleData) ispInterfaces() []*models.Interface             { return c.isp }
