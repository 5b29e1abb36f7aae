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

package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/carverauto/netwatch/pkg/models"
)

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := s.store.ListBranches(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, branches)
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	branch, err := s.store.GetBranch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, branch)
}

func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var branch models.Branch
	if !s.decodeBody(w, r, &branch) {
		return
	}

	if branch.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if branch.ID == "" {
		branch.ID = uuid.New().String()
	}

	if err := s.store.CreateBranch(r.Context(), &branch); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, &branch)
}

func (s *Server) handleUpdateBranch(w http.ResponseWriter, r *http.Request) {
	var branch models.Branch
	if !s.decodeBody(w, r, &branch) {
		return
	}

	branch.ID = mux.Vars(r)["id"]

	if branch.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.store.UpdateBranch(r.Context(), &branch); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &branch)
}

// handleDeleteBranch refuses to remove a branch that still owns devices unless
// ?cascade=true, in which case the devices go with it.
func (s *Server) handleDeleteBranch(w http.ResponseWriter, r *http.Request) {
	cascade := r.URL.Query().Get("cascade") == "true"

	if err := s.store.DeleteBranch(r.Context(), mux.Vars(r)["id"], cascade); err != nil {
		s.writeStoreError(w, err)
		return
	}

	if cascade {
		s.invalidateDeviceReads()
	}

	s.writeJSON(w, http.StatusNoContent, nil)
}
