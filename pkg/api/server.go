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

// Package api exposes the HTTP and websocket surface: fleet CRUD, telemetry
// reads, alert management and the live status stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/netwatch/pkg/cache"
	"github.com/carverauto/netwatch/pkg/crypto/secrets"
	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/diagnostics"
	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
	"github.com/carverauto/netwatch/pkg/scheduler"
	"github.com/carverauto/netwatch/pkg/telemetry"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server hosts the REST API and the websocket broadcaster.
type Server struct {
	cfg       *models.APIConfig
	store     db.Service
	cache     *cache.Cache
	cacheTTL  *models.CacheConfig
	sched     *scheduler.Scheduler
	telemetry *telemetry.Writer
	cipher    *secrets.Cipher
	diag      *diagnostics.Runner
	hub       *Hub
	router    *mux.Router
	logger    logger.Logger

	httpSrv *http.Server

	pingInterval time.Duration
}

// Option customizes the Server.
type Option func(*Server)

// WithScheduler exposes pipeline health on the health endpoint.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(srv *Server) { srv.sched = s }
}

// WithPingInterval informs stale detection on the device list.
func WithPingInterval(d time.Duration) Option {
	return func(srv *Server) { srv.pingInterval = d }
}

// WithCipher enables the credential write path.
func WithCipher(c *secrets.Cipher) Option {
	return func(srv *Server) { srv.cipher = c }
}

// WithDiagnostics enables the on-demand diagnostics endpoint.
func WithDiagnostics(r *diagnostics.Runner) Option {
	return func(srv *Server) { srv.diag = r }
}

// WithTelemetry surfaces writer state on the health endpoint.
func WithTelemetry(w *telemetry.Writer) Option {
	return func(srv *Server) { srv.telemetry = w }
}

// NewServer wires routes, middleware and the websocket hub.
func NewServer(cfg *models.APIConfig, cacheCfg *models.CacheConfig, store db.Service, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		store:        store,
		cache:        cache.New(),
		cacheTTL:     cacheCfg,
		logger:       log.WithComponent("api"),
		pingInterval: 30 * time.Second,
	}

	s.hub = NewHub(cfg, s.logger)

	for _, opt := range opts {
		opt(s)
	}

	s.router = mux.NewRouter()
	s.routes()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Hub returns the websocket broadcaster so pipeline hooks can feed it.
func (s *Server) Hub() *Hub { return s.hub }

// Cache returns the read cache so write paths elsewhere can invalidate.
func (s *Server) Cache() *cache.Cache { return s.cache }

func (s *Server) routes() {
	r := s.router.PathPrefix("/api").Subrouter()
	r.Use(s.loggingMiddleware, s.corsMiddleware, s.authMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/devices", s.handleCreateDevice).Methods(http.MethodPost)
	r.HandleFunc("/devices/bulk/import", s.handleImportDevices).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}", s.handleGetDevice).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/devices/{id}", s.handleUpdateDevice).Methods(http.MethodPut)
	r.HandleFunc("/devices/{id}", s.handleDeleteDevice).Methods(http.MethodDelete)
	r.HandleFunc("/devices/{id}/pings", s.handleDevicePings).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/devices/{id}/availability", s.handleDeviceAvailability).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/devices/{id}/interfaces", s.handleDeviceInterfaces).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/devices/{id}/status-history", s.handleDeviceStatusHistory).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/devices/{id}/items", s.handleListItems).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/devices/{id}/items", s.handleCreateItem).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/credentials", s.handleUpsertCredential).Methods(http.MethodPut)
	r.HandleFunc("/devices/{id}/credentials", s.handleDeleteCredential).Methods(http.MethodDelete)

	r.HandleFunc("/items/{id}", s.handleUpdateItem).Methods(http.MethodPut)
	r.HandleFunc("/items/{id}", s.handleDeleteItem).Methods(http.MethodDelete)

	r.HandleFunc("/branches", s.handleListBranches).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/branches", s.handleCreateBranch).Methods(http.MethodPost)
	r.HandleFunc("/branches/{id}", s.handleGetBranch).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/branches/{id}", s.handleUpdateBranch).Methods(http.MethodPut)
	r.HandleFunc("/branches/{id}", s.handleDeleteBranch).Methods(http.MethodDelete)

	r.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	r.HandleFunc("/rules/{id}", s.handleGetRule).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	r.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)

	r.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/alerts/realtime", s.handleActiveAlerts).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert).Methods(http.MethodPost)

	r.HandleFunc("/dashboard/stats", s.handleDashboardStats).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/diagnostics/{check}", s.handleDiagnostics).Methods(http.MethodPost)

	r.HandleFunc("/ws/updates", s.handleWebsocket).Methods(http.MethodGet)
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("API listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		return ctx.Err()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, apiError{Error: msg})
}

// writeStoreError maps persistence errors to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, db.ErrBranchInUse):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrItemIntervalTooShort):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Storage error")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	return true
}
