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
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/carverauto/netwatch/pkg/alerting"
	"github.com/carverauto/netwatch/pkg/cache"
	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/models"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context(), r.URL.Query().Get("enabled") == "true")
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, rule)
}

// validateRule rejects rules whose expression would never evaluate. Storing an
// unparseable expression only manufactures a skipped-with-warning rule.
func validateRule(rule *models.AlertRule) string {
	if rule.Name == "" {
		return "name is required"
	}

	if _, err := alerting.ParseExpression(rule.Expression); err != nil {
		return "invalid expression: " + err.Error()
	}

	switch rule.Severity {
	case models.SeverityCritical, models.SeverityHigh, models.SeverityMedium,
		models.SeverityLow, models.SeverityInfo:
		return ""
	default:
		return "invalid severity"
	}
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if !s.decodeBody(w, r, &rule) {
		return
	}

	if msg := validateRule(&rule); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := s.store.CreateRule(r.Context(), &rule); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, &rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if !s.decodeBody(w, r, &rule) {
		return
	}

	rule.ID = mux.Vars(r)["id"]

	if msg := validateRule(&rule); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.store.UpdateRule(r.Context(), &rule); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, &rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.AlertFilter{
		DeviceID: q.Get("device_id"),
		Severity: models.Severity(q.Get("severity")),
		Limit:    parseLimit(r, 0),
	}

	switch q.Get("status") {
	case "", "all":
	case "active":
		filter.ActiveOnly = true
	case "resolved":
		filter.ResolvedOnly = true
	default:
		s.writeError(w, http.StatusBadRequest, "status must be active, resolved or all")
		return
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}

		filter.Since = since
	}

	alerts, err := s.store.ListAlerts(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, alerts)
}

// handleActiveAlerts is the dashboard's fast path for unresolved alerts.
func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.cache.Get(cache.KeyActiveAlerts); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	alerts, err := s.store.ListUnresolvedAlerts(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.cache.Set(cache.KeyActiveAlerts, alerts, time.Duration(s.cacheTTL.ActiveAlertsTTL))
	s.writeJSON(w, http.StatusOK, alerts)
}

type acknowledgeRequest struct {
	By string `json:"by"`
}

// handleAcknowledgeAlert marks an alert as seen by an operator. Acknowledging
// never resolves; the condition owns the alert's lifecycle.
func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if req.By == "" {
		s.writeError(w, http.StatusBadRequest, "by is required")
		return
	}

	id := mux.Vars(r)["id"]

	if err := s.store.AcknowledgeAlert(r.Context(), id, req.By, time.Now().UTC()); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.cache.Invalidate(cache.KeyActiveAlerts)

	alert, err := s.store.GetAlert(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, alert)
}
