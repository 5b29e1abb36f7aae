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

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBranchInUse indicates a branch delete was refused because devices
	// still reference it.
	ErrBranchInUse = errors.New("branch still referenced by devices")

	ErrFailedToConnect    = errors.New("failed to connect to database")
	ErrFailedToInitSchema = errors.New("failed to initialize schema")
	ErrFailedToQuery      = errors.New("failed to execute query")
	ErrFailedToInsert     = errors.New("failed to insert record")
	ErrFailedToUpdate     = errors.New("failed to update record")
	ErrFailedToDelete     = errors.New("failed to delete record")
	ErrFailedToScan       = errors.New("failed to scan row")
	ErrFailedToBeginTx    = errors.New("failed to begin transaction")
	ErrFailedToCommitTx   = errors.New("failed to commit transaction")
)
