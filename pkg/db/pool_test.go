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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netwatch/pkg/models"
)

func TestBuildPoolConfigDefaults(t *testing.T) {
	cfg, err := buildPoolConfig(&models.DatabaseConfig{
		Host:     "db.local",
		Database: "netwatch",
		Username: "monitor",
		Password: "s3cret",
	})
	require.NoError(t, err)

	assert.Equal(t, int32(defaultMaxConns), cfg.MaxConns)
	assert.Equal(t, int32(defaultMinConns), cfg.MinConns)
	assert.Equal(t, "db.local", cfg.ConnConfig.Host)
	assert.Equal(t, "netwatch", cfg.ConnConfig.Database)
	assert.Equal(t, "monitor", cfg.ConnConfig.User)
	assert.Equal(t, "30000", cfg.ConnConfig.RuntimeParams["statement_timeout"])
	assert.Equal(t, "netwatch", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestBuildPoolConfigOverrides(t *testing.T) {
	cfg, err := buildPoolConfig(&models.DatabaseConfig{
		Host:             "10.0.0.5",
		Port:             5433,
		Database:         "netwatch",
		MaxConnections:   40,
		MinConnections:   5,
		StatementTimeout: models.Duration(5 * time.Second),
		ApplicationName:  "netwatch-test",
	})
	require.NoError(t, err)

	assert.Equal(t, int32(40), cfg.MaxConns)
	assert.Equal(t, int32(5), cfg.MinConns)
	assert.Equal(t, uint16(5433), cfg.ConnConfig.Port)
	assert.Equal(t, "5000", cfg.ConnConfig.RuntimeParams["statement_timeout"])
	assert.Equal(t, "netwatch-test", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestBuildPoolConfigSpecialCharacterPassword(t *testing.T) {
	cfg, err := buildPoolConfig(&models.DatabaseConfig{
		Host:     "db.local",
		Database: "netwatch",
		Username: "monitor",
		Password: "p@ss:w/rd",
	})
	require.NoError(t, err)

	assert.Equal(t, "p@ss:w/rd", cfg.ConnConfig.Password)
}
