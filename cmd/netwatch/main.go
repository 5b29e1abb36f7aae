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

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/netwatch/pkg/alerting"
	"github.com/carverauto/netwatch/pkg/api"
	"github.com/carverauto/netwatch/pkg/cache"
	"github.com/carverauto/netwatch/pkg/config"
	"github.com/carverauto/netwatch/pkg/crypto/secrets"
	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/diagnostics"
	"github.com/carverauto/netwatch/pkg/events"
	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/maintenance"
	"github.com/carverauto/netwatch/pkg/models"
	"github.com/carverauto/netwatch/pkg/probe"
	"github.com/carverauto/netwatch/pkg/scheduler"
	"github.com/carverauto/netwatch/pkg/snmp"
	"github.com/carverauto/netwatch/pkg/status"
	"github.com/carverauto/netwatch/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/netwatch/netwatch.json", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap logger for config loading; replaced once the level is known.
	bootLog, err := logger.New(ctx, logger.Config{Level: "info"})
	if err != nil {
		return err
	}

	cfg := &models.Config{}
	if err := config.LoadAndValidate(ctx, *configPath, cfg, bootLog); err != nil {
		return err
	}

	rootLog, err := logger.New(ctx, logger.Config{Level: cfg.LogLevel, Debug: *debug})
	if err != nil {
		return err
	}

	defer func() {
		if err := logger.ShutdownOTel(); err != nil {
			rootLog.Error().Err(err).Msg("Failed to shut down OTel exporter")
		}
	}()

	store, err := db.New(ctx, &cfg.Database, rootLog)
	if err != nil {
		return err
	}
	defer store.Close()

	// Credential encryption is optional; without a key SNMP polling and
	// credential writes are disabled, ping monitoring still runs.
	cipher, err := secrets.NewCipherFromEnv()
	if err != nil {
		rootLog.Warn().Err(err).Msg("Secret key unavailable, SNMP polling disabled")
		cipher = nil
	}

	publisher, natsConn, err := events.Connect(ctx, &cfg.NATS, rootLog)
	if err != nil {
		return err
	}

	if natsConn != nil {
		defer natsConn.Close()
	}

	prober := probe.New(cfg.ICMP.Count, time.Duration(cfg.ICMP.PacketTimeout), rootLog)
	writer := telemetry.NewWriter(&cfg.Telemetry, rootLog)
	statusEngine := status.NewEngine(store, rootLog)

	var factory scheduler.ClientFactory
	if cipher != nil {
		factory = snmp.NewClientFactory(cipher, time.Duration(cfg.SNMP.Timeout), cfg.SNMP.Retries)
	}

	sched := scheduler.New(&cfg.Scheduler, store, prober, factory, statusEngine, writer, rootLog)

	serverOpts := []api.Option{
		api.WithScheduler(sched),
		api.WithTelemetry(writer),
		api.WithPingInterval(time.Duration(cfg.Scheduler.PingInterval)),
		api.WithDiagnostics(diagnostics.NewRunner(prober, rootLog)),
	}

	if cipher != nil {
		serverOpts = append(serverOpts, api.WithCipher(cipher))
	}

	server := api.NewServer(&cfg.API, &cfg.Cache, store, rootLog, serverOpts...)

	alertEngine := alerting.NewEngine(store, time.Duration(cfg.Alerting.Cadence), rootLog)

	// Committed transitions fan out to the event bus, the websocket hub, the
	// read caches and an early alert evaluation. Hooks run on the applying
	// goroutine, so they only queue.
	statusEngine.OnTransition(func(sc *models.StatusChange) {
		server.Hub().BroadcastStatusChange(sc)
		server.Cache().InvalidatePrefix(cache.KeyDeviceListPrefix)
		server.Cache().Invalidate(cache.KeyDashboardStats)
		alertEngine.Kick()

		if err := publisher.PublishStatusChange(ctx, sc); err != nil {
			rootLog.Error().Err(err).Str("device_id", sc.DeviceID).Msg("Failed to publish status change")
		}
	})

	alertEngine.OnFired(func(e *models.AlertEvent) {
		server.Hub().BroadcastAlert("alert_fired", e)
		server.Cache().Invalidate(cache.KeyActiveAlerts)
		server.Cache().Invalidate(cache.KeyDashboardStats)

		if err := publisher.PublishAlertFired(ctx, e); err != nil {
			rootLog.Error().Err(err).Str("alert_id", e.ID).Msg("Failed to publish alert")
		}
	})

	alertEngine.OnResolved(func(e *models.AlertEvent) {
		server.Hub().BroadcastAlert("alert_resolved", e)
		server.Cache().Invalidate(cache.KeyActiveAlerts)
		server.Cache().Invalidate(cache.KeyDashboardStats)

		if err := publisher.PublishAlertResolved(ctx, e); err != nil {
			rootLog.Error().Err(err).Str("alert_id", e.ID).Msg("Failed to publish alert resolution")
		}
	})

	janitor := maintenance.New(&cfg.Retention, store, rootLog)

	rootLog.Info().
		Str("listen_addr", cfg.API.ListenAddr).
		Bool("snmp_enabled", cipher != nil).
		Bool("events_enabled", natsConn != nil).
		Msg("netwatch starting")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return alertEngine.Run(gctx) })
	g.Go(func() error { return writer.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	rootLog.Info().Msg("netwatch stopped")

	return nil
}
