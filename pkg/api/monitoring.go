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
	"regexp"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/carverauto/netwatch/pkg/models"
)

// snmpIdentifier bounds community strings and v3 security names to a safe
// character class before they reach the poller.
var snmpIdentifier = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,64}$`)

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var item models.MonitoringItem
	if !s.decodeBody(w, r, &item) {
		return
	}

	item.DeviceID = mux.Vars(r)["id"]

	if item.OID == "" || item.Name == "" {
		s.writeError(w, http.StatusBadRequest, "oid and name are required")
		return
	}

	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	if err := s.store.CreateItem(r.Context(), &item); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, &item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var item models.MonitoringItem
	if !s.decodeBody(w, r, &item) {
		return
	}

	item.ID = mux.Vars(r)["id"]

	if item.OID == "" || item.Name == "" {
		s.writeError(w, http.StatusBadRequest, "oid and name are required")
		return
	}

	if err := s.store.UpdateItem(r.Context(), &item); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteItem(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusNoContent, nil)
}

// credentialRequest carries plaintext secrets over the (authenticated) API.
// They are encrypted before touching the store and never echoed back.
type credentialRequest struct {
	Version      models.SNMPVersion `json:"version"`
	Port         int                `json:"port,omitempty"`
	Community    string             `json:"community,omitempty"`
	SecurityName string             `json:"security_name,omitempty"`
	AuthProtocol string             `json:"auth_protocol,omitempty"`
	AuthPass     string             `json:"auth_pass,omitempty"`
	PrivProtocol string             `json:"priv_protocol,omitempty"`
	PrivPass     string             `json:"priv_pass,omitempty"`
}

func (s *Server) handleUpsertCredential(w http.ResponseWriter, r *http.Request) {
	if s.cipher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "secret encryption is not configured")
		return
	}

	var req credentialRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	cred := &models.SNMPCredential{
		DeviceID:     mux.Vars(r)["id"],
		Version:      req.Version,
		Port:         req.Port,
		SecurityName: req.SecurityName,
		AuthProtocol: req.AuthProtocol,
		PrivProtocol: req.PrivProtocol,
	}

	switch req.Version {
	case models.SNMPVersion2c:
		if req.Community == "" {
			s.writeError(w, http.StatusBadRequest, "community is required for v2c")
			return
		}

		if !snmpIdentifier.MatchString(req.Community) {
			s.writeError(w, http.StatusBadRequest, "community contains characters outside the allowed set")
			return
		}
	case models.SNMPVersion3:
		if req.SecurityName == "" || req.AuthPass == "" {
			s.writeError(w, http.StatusBadRequest, "security_name and auth_pass are required for v3")
			return
		}

		if !snmpIdentifier.MatchString(req.SecurityName) {
			s.writeError(w, http.StatusBadRequest, "security_name contains characters outside the allowed set")
			return
		}
	default:
		s.writeError(w, http.StatusBadRequest, "version must be v2c or v3")
		return
	}

	var err error

	if req.Community != "" {
		if cred.CommunityEnc, err = s.cipher.EncryptString(req.Community); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to encrypt secret")
			return
		}
	}

	if req.AuthPass != "" {
		if cred.AuthPassEnc, err = s.cipher.EncryptString(req.AuthPass); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to encrypt secret")
			return
		}
	}

	if req.PrivPass != "" {
		if cred.PrivPassEnc, err = s.cipher.EncryptString(req.PrivPass); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to encrypt secret")
			return
		}
	}

	if err := s.store.UpsertCredential(r.Context(), cred); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, cred)
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCredential(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusNoContent, nil)
}
