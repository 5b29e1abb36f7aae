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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carverauto/netwatch/pkg/models"
)

const branchColumns = `id, name, display_name, region, code, active, created_at, updated_at`

const insertBranchSQL = `INSERT INTO branches (` + branchColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const getBranchSQL = `SELECT ` + branchColumns + ` FROM branches WHERE id = $1`

const listBranchesSQL = `SELECT ` + branchColumns + ` FROM branches ORDER BY name`

const updateBranchSQL = `UPDATE branches SET
	name = $2, display_name = $3, region = $4, code = $5, active = $6, updated_at = $7
	WHERE id = $1`

const countBranchDevicesSQL = `SELECT COUNT(*) FROM standalone_devices WHERE branch_id = $1`

const deleteBranchDevicesSQL = `DELETE FROM standalone_devices WHERE branch_id = $1`

const deleteBranchSQL = `DELETE FROM branches WHERE id = $1`

// CreateBranch inserts a branch, assigning an ID when absent.
func (s *Store) CreateBranch(ctx context.Context, b *models.Branch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}

	now := nowUTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.pool.Exec(ctx, insertBranchSQL,
		b.ID, b.Name, b.DisplayName, b.Region, b.Code, b.Active, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	return nil
}

func (s *Store) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	var b models.Branch

	err := s.pool.QueryRow(ctx, getBranchSQL, id).Scan(
		&b.ID, &b.Name, &b.DisplayName, &b.Region, &b.Code, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return &b, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]*models.Branch, error) {
	rows, err := s.pool.Query(ctx, listBranchesSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var branches []*models.Branch

	for rows.Next() {
		var b models.Branch

		if err := rows.Scan(&b.ID, &b.Name, &b.DisplayName, &b.Region, &b.Code,
			&b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		branches = append(branches, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return branches, nil
}

func (s *Store) UpdateBranch(ctx context.Context, b *models.Branch) error {
	b.UpdatedAt = nowUTC()

	tag, err := s.pool.Exec(ctx, updateBranchSQL,
		b.ID, b.Name, b.DisplayName, b.Region, b.Code, b.Active, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpdate, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteBranch refuses to remove a branch that still has devices unless the
// caller explicitly requests a cascade, which removes the devices first.
func (s *Store) DeleteBranch(ctx context.Context, id string, cascade bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var count int
	if err := tx.QueryRow(ctx, countBranchDevicesSQL, id).Scan(&count); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	if count > 0 {
		if !cascade {
			return fmt.Errorf("%w: %d devices", ErrBranchInUse, count)
		}

		if _, err := tx.Exec(ctx, deleteBranchDevicesSQL, id); err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToDelete, err)
		}
	}

	tag, err := tx.Exec(ctx, deleteBranchSQL, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToDelete, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToCommitTx, err)
	}

	return nil
}
