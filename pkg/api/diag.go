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
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carverauto/netwatch/pkg/diagnostics"
)

type diagnosticsRequest struct {
	Target   string `json:"target,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Ports    []int  `json:"ports,omitempty"`
}

// checkAliases maps URL spellings onto runner check names.
var checkAliases = map[string]string{
	"dns-lookup": diagnostics.CheckDNS,
}

// handleDiagnostics runs one on-demand check against a raw target or a known
// device's IP.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diag == nil {
		s.writeError(w, http.StatusServiceUnavailable, "diagnostics are not configured")
		return
	}

	check := mux.Vars(r)["check"]
	if alias, ok := checkAliases[check]; ok {
		check = alias
	}

	var req diagnosticsRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	target := req.Target
	if target == "" && req.DeviceID != "" {
		dev, err := s.store.GetDevice(r.Context(), req.DeviceID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		target = dev.IP
	}

	report, err := s.diag.Run(r.Context(), target, []string{check}, req.Ports)
	if err != nil {
		switch {
		case errors.Is(err, diagnostics.ErrUnknownCheck), errors.Is(err, diagnostics.ErrNoTarget):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}

		return
	}

	s.writeJSON(w, http.StatusOK, report)
}
