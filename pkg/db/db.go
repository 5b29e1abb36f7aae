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

// Package db is the Postgres persistence layer for the device registry,
// monitoring configuration, alert history and recent probe telemetry.
package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

// Service is the full persistence surface. Consumers should depend on the
// narrow subset they use; this interface exists so the API layer and tests can
// swap the whole store.
type Service interface {
	// Devices.
	CreateDevice(ctx context.Context, d *models.Device) error
	CreateDevices(ctx context.Context, devices []*models.Device) error
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	GetDevicesByIP(ctx context.Context, ip string) ([]*models.Device, error)
	ListDevices(ctx context.Context, f DeviceFilter) ([]*models.Device, error)
	UpdateDevice(ctx context.Context, d *models.Device) error
	UpdateDeviceState(ctx context.Context, s *DeviceState) error
	SetCredentialError(ctx context.Context, deviceID string, flagged bool) error
	DeleteDevice(ctx context.Context, id string) error

	// Branches.
	CreateBranch(ctx context.Context, b *models.Branch) error
	GetBranch(ctx context.Context, id string) (*models.Branch, error)
	ListBranches(ctx context.Context) ([]*models.Branch, error)
	UpdateBranch(ctx context.Context, b *models.Branch) error
	DeleteBranch(ctx context.Context, id string, cascade bool) error

	// Monitoring items and credentials.
	CreateItem(ctx context.Context, item *models.MonitoringItem) error
	GetItem(ctx context.Context, id string) (*models.MonitoringItem, error)
	ListItems(ctx context.Context, deviceID string) ([]*models.MonitoringItem, error)
	ListEnabledItems(ctx context.Context) ([]*models.MonitoringItem, error)
	UpdateItem(ctx context.Context, item *models.MonitoringItem) error
	DeleteItem(ctx context.Context, id string) error
	UpsertCredential(ctx context.Context, c *models.SNMPCredential) error
	GetCredential(ctx context.Context, deviceID string) (*models.SNMPCredential, error)
	DeleteCredential(ctx context.Context, deviceID string) error

	// Interfaces.
	UpsertInterfaces(ctx context.Context, deviceID string, ifaces []*models.Interface) error
	ListInterfaces(ctx context.Context, deviceID string) ([]*models.Interface, error)
	ListEnabledInterfaces(ctx context.Context) ([]*models.Interface, error)

	// Alerting.
	CreateRule(ctx context.Context, r *models.AlertRule) error
	GetRule(ctx context.Context, id string) (*models.AlertRule, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]*models.AlertRule, error)
	UpdateRule(ctx context.Context, r *models.AlertRule) error
	DeleteRule(ctx context.Context, id string) error
	InsertAlert(ctx context.Context, e *models.AlertEvent) error
	GetAlert(ctx context.Context, id string) (*models.AlertEvent, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]*models.AlertEvent, error)
	ListUnresolvedAlerts(ctx context.Context) ([]*models.AlertEvent, error)
	FindUnresolvedAlert(ctx context.Context, fp models.AlertFingerprint) (*models.AlertEvent, error)
	ResolveAlert(ctx context.Context, id string, at time.Time) error
	ResolveDeviceAlerts(ctx context.Context, deviceID string, at time.Time) (int64, error)
	AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) error
	ResolveDuplicateAlerts(ctx context.Context, at time.Time) (int64, error)
	CountActiveAlerts(ctx context.Context) (total, critical int, err error)

	// Telemetry.
	InsertPingResult(ctx context.Context, p *models.PingResult) error
	LatestPingResult(ctx context.Context, deviceID string) (*models.PingResult, error)
	LatestPingResults(ctx context.Context) ([]*models.PingResult, error)
	ListPingResults(ctx context.Context, deviceID string, since time.Time, limit int) ([]*models.PingResult, error)
	DeviceAvailability(ctx context.Context, deviceID string, since time.Time) (float64, error)
	UpsertItemValue(ctx context.Context, v *models.SNMPValue) error
	LatestItemValues(ctx context.Context) ([]*models.SNMPValue, error)
	InsertStatusChange(ctx context.Context, sc *models.StatusChange) error
	ListStatusChanges(ctx context.Context, deviceID string, limit int) ([]*models.StatusChange, error)

	// Maintenance.
	PurgePingResults(ctx context.Context, olderThan time.Time) (int64, error)
	PurgeResolvedAlerts(ctx context.Context, olderThan time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close()
}

// Store implements Service on top of a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ Service = (*Store)(nil)

// nowUTC is swappable in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }

// New connects to Postgres and ensures the schema exists.
func New(ctx context.Context, cfg *models.DatabaseConfig, log logger.Logger) (*Store, error) {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{pool: pool, logger: log.WithComponent("db")}

	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping verifies a live connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
