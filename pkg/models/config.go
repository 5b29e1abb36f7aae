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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Duration parses either a Go duration string or raw nanoseconds from JSON.
type Duration time.Duration

var errInvalidDuration = errors.New("invalid duration")

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

// DatabaseConfig points at the Postgres registry and history store.
type DatabaseConfig struct {
	Host             string   `json:"host"`
	Port             int      `json:"port"`
	Database         string   `json:"database"`
	Username         string   `json:"username"`
	Password         string   `json:"password"`
	SSLMode          string   `json:"ssl_mode,omitempty"`
	MaxConnections   int32    `json:"max_connections,omitempty"`
	MinConnections   int32    `json:"min_connections,omitempty"`
	StatementTimeout Duration `json:"statement_timeout,omitempty"`
	ApplicationName  string   `json:"application_name,omitempty"`
}

// TelemetryConfig points at the line-oriented time-series backend. The store
// is best effort: outages never stall probing.
type TelemetryConfig struct {
	URL           string   `json:"url"`
	Timeout       Duration `json:"timeout,omitempty"`
	BufferSize    int      `json:"buffer_size,omitempty"`
	FlushInterval Duration `json:"flush_interval,omitempty"`
	MaxRetries    int      `json:"max_retries,omitempty"`
}

// NATSConfig enables CloudEvents emission when a URL is set.
type NATSConfig struct {
	URL    string `json:"url,omitempty"`
	Stream string `json:"stream,omitempty"`
}

// SchedulerConfig tunes the probing pipeline.
type SchedulerConfig struct {
	PingInterval  Duration `json:"ping_interval,omitempty"`  // default 30s, floor 10s
	Workers       int      `json:"workers,omitempty"`        // default 50
	QueueSize     int      `json:"queue_size,omitempty"`     // default 4096
	HighWaterMark int      `json:"high_water_mark,omitempty"`
}

// ICMPConfig tunes the prober.
type ICMPConfig struct {
	Count         int      `json:"count,omitempty"`          // echoes per probe, default 5
	PacketTimeout Duration `json:"packet_timeout,omitempty"` // default 1s
}

// SNMPConfig tunes the item poller.
type SNMPConfig struct {
	Timeout    Duration `json:"timeout,omitempty"`     // default 5s
	Retries    int      `json:"retries,omitempty"`     // default 2
	BackoffMin Duration `json:"backoff_min,omitempty"` // default 500ms
}

// AlertingConfig tunes the rule evaluator.
type AlertingConfig struct {
	Cadence Duration `json:"cadence,omitempty"` // default 60s
}

// CacheConfig sets the dashboard read-path TTLs.
type CacheConfig struct {
	DeviceListTTL   Duration `json:"device_list_ttl,omitempty"`   // default 30s
	DashboardTTL    Duration `json:"dashboard_ttl,omitempty"`     // default 30s
	ActiveAlertsTTL Duration `json:"active_alerts_ttl,omitempty"` // default 10s
	LatestPingTTL   Duration `json:"latest_ping_ttl,omitempty"`   // default 5s
}

// APIConfig configures the HTTP and websocket surface.
type APIConfig struct {
	ListenAddr        string   `json:"listen_addr"`
	APIKey            string   `json:"api_key,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
	HeartbeatInterval Duration `json:"heartbeat_interval,omitempty"` // default 30s
	HeartbeatTimeout  Duration `json:"heartbeat_timeout,omitempty"`  // default 45s
	HandshakesPerMin  int      `json:"handshakes_per_min,omitempty"` // per source IP
}

// RetentionConfig bounds stored history.
type RetentionConfig struct {
	PingResults    Duration `json:"ping_results,omitempty"`    // default 90d
	ResolvedAlerts Duration `json:"resolved_alerts,omitempty"` // default 365d
	Interval       Duration `json:"interval,omitempty"`        // default 1h
}

// Config is the top-level netwatch service configuration.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Telemetry TelemetryConfig `json:"telemetry"`
	NATS      NATSConfig      `json:"nats"`
	Scheduler SchedulerConfig `json:"scheduler"`
	ICMP      ICMPConfig      `json:"icmp"`
	SNMP      SNMPConfig      `json:"snmp"`
	Alerting  AlertingConfig  `json:"alerting"`
	Cache     CacheConfig     `json:"cache"`
	API       APIConfig       `json:"api"`
	Retention RetentionConfig `json:"retention"`

	LogLevel string `json:"log_level,omitempty"`
}

var (
	errListenAddrRequired = errors.New("api.listen_addr is required")
	errDatabaseRequired   = errors.New("database.host and database.database are required")
	errPingIntervalFloor  = errors.New("scheduler.ping_interval must be at least 10s")
)

// Validate applies defaults and rejects impossible settings.
func (c *Config) Validate() error {
	if c.API.ListenAddr == "" {
		return errListenAddrRequired
	}

	if c.Database.Host == "" || c.Database.Database == "" {
		return errDatabaseRequired
	}

	if c.Scheduler.PingInterval == 0 {
		c.Scheduler.PingInterval = Duration(30 * time.Second)
	}

	if time.Duration(c.Scheduler.PingInterval) < 10*time.Second {
		return errPingIntervalFloor
	}

	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 50
	}

	if c.Scheduler.QueueSize <= 0 {
		c.Scheduler.QueueSize = 4096
	}

	if c.Scheduler.HighWaterMark <= 0 {
		c.Scheduler.HighWaterMark = c.Scheduler.QueueSize * 3 / 4
	}

	if c.ICMP.Count <= 0 {
		c.ICMP.Count = 5
	}

	if c.ICMP.PacketTimeout == 0 {
		c.ICMP.PacketTimeout = Duration(time.Second)
	}

	if c.SNMP.Timeout == 0 {
		c.SNMP.Timeout = Duration(5 * time.Second)
	}

	if c.SNMP.Retries <= 0 {
		c.SNMP.Retries = 2
	}

	if c.SNMP.BackoffMin == 0 {
		c.SNMP.BackoffMin = Duration(500 * time.Millisecond)
	}

	if c.Alerting.Cadence == 0 {
		c.Alerting.Cadence = Duration(time.Minute)
	}

	if c.Cache.DeviceListTTL == 0 {
		c.Cache.DeviceListTTL = Duration(30 * time.Second)
	}

	if c.Cache.DashboardTTL == 0 {
		c.Cache.DashboardTTL = Duration(30 * time.Second)
	}

	if c.Cache.ActiveAlertsTTL == 0 {
		c.Cache.ActiveAlertsTTL = Duration(10 * time.Second)
	}

	if c.Cache.LatestPingTTL == 0 {
		c.Cache.LatestPingTTL = Duration(5 * time.Second)
	}

	if c.API.HeartbeatInterval == 0 {
		c.API.HeartbeatInterval = Duration(30 * time.Second)
	}

	if c.API.HeartbeatTimeout == 0 {
		c.API.HeartbeatTimeout = Duration(45 * time.Second)
	}

	if c.API.HandshakesPerMin <= 0 {
		c.API.HandshakesPerMin = 30
	}

	if c.Retention.PingResults == 0 {
		c.Retention.PingResults = Duration(90 * 24 * time.Hour)
	}

	if c.Retention.ResolvedAlerts == 0 {
		c.Retention.ResolvedAlerts = Duration(365 * 24 * time.Hour)
	}

	if c.Retention.Interval == 0 {
		c.Retention.Interval = Duration(time.Hour)
	}

	return nil
}
