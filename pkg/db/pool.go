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

package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carverauto/netwatch/pkg/models"
)

const (
	defaultMaxConns          = 10
	defaultMinConns          = 2
	defaultStatementTimeout  = 30 * time.Second
	defaultConnectTimeout    = 10 * time.Second
	defaultHealthCheckPeriod = time.Minute
	defaultApplicationName   = "netwatch"
)

// buildPoolConfig converts a DatabaseConfig into a pgxpool configuration with
// sane pool sizing and a server-side statement timeout.
func buildPoolConfig(cfg *models.DatabaseConfig) (*pgxpool.Config, error) {
	host := cfg.Host
	if cfg.Port > 0 {
		host = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host,
		Path:   "/" + cfg.Database,
	}

	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	q := u.Query()
	q.Set("sslmode", sslMode)
	u.RawQuery = q.Encode()

	poolCfg, err := pgxpool.ParseConfig(u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConnections
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = defaultMaxConns
	}

	poolCfg.MinConns = cfg.MinConnections
	if poolCfg.MinConns <= 0 {
		poolCfg.MinConns = defaultMinConns
	}

	poolCfg.HealthCheckPeriod = defaultHealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout

	statementTimeout := time.Duration(cfg.StatementTimeout)
	if statementTimeout <= 0 {
		statementTimeout = defaultStatementTimeout
	}

	appName := cfg.ApplicationName
	if appName == "" {
		appName = defaultApplicationName
	}

	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
		fmt.Sprintf("%d", statementTimeout.Milliseconds())
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName

	return poolCfg, nil
}

// connect builds the pool and verifies connectivity with a ping.
func connect(ctx context.Context, cfg *models.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToConnect, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToConnect, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrFailedToConnect, err)
	}

	return pool, nil
}
