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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/carverauto/netwatch/pkg/models"
)

const upsertCredentialSQL = `INSERT INTO snmp_credentials
	(device_id, version, port, community_enc, security_name,
	 auth_protocol, auth_pass_enc, priv_protocol, priv_pass_enc, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (device_id) DO UPDATE SET
		version = EXCLUDED.version,
		port = EXCLUDED.port,
		community_enc = EXCLUDED.community_enc,
		security_name = EXCLUDED.security_name,
		auth_protocol = EXCLUDED.auth_protocol,
		auth_pass_enc = EXCLUDED.auth_pass_enc,
		priv_protocol = EXCLUDED.priv_protocol,
		priv_pass_enc = EXCLUDED.priv_pass_enc,
		updated_at = EXCLUDED.updated_at`

const getCredentialSQL = `SELECT device_id, version, port, community_enc, security_name,
	auth_protocol, auth_pass_enc, priv_protocol, priv_pass_enc, updated_at
	FROM snmp_credentials WHERE device_id = $1`

const deleteCredentialSQL = `DELETE FROM snmp_credentials WHERE device_id = $1`

// UpsertCredential stores per-device SNMP access material. Secret columns are
// expected to already carry ciphertext; this layer never sees plaintext.
func (s *Store) UpsertCredential(ctx context.Context, c *models.SNMPCredential) error {
	if c.Port <= 0 {
		c.Port = models.DefaultSNMPPort
	}

	c.UpdatedAt = nowUTC()

	_, err := s.pool.Exec(ctx, upsertCredentialSQL,
		c.DeviceID, c.Version, c.Port, c.CommunityEnc, c.SecurityName,
		c.AuthProtocol, c.AuthPassEnc, c.PrivProtocol, c.PrivPassEnc, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

func (s *Store) GetCredential(ctx context.Context, deviceID string) (*models.SNMPCredential, error) {
	var c models.SNMPCredential

	err := s.pool.QueryRow(ctx, getCredentialSQL, deviceID).Scan(
		&c.DeviceID, &c.Version, &c.Port, &c.CommunityEnc, &c.SecurityName,
		&c.AuthProtocol, &c.AuthPassEnc, &c.PrivProtocol, &c.PrivPassEnc, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return &c, nil
}

func (s *Store) DeleteCredential(ctx context.Context, deviceID string) error {
	tag, err := s.pool.Exec(ctx, deleteCredentialSQL, deviceID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToDelete, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
