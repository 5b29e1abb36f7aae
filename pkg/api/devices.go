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
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/carverauto/netwatch/pkg/cache"
	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/models"
)

// deviceView adds derived read-path fields to the stored device.
type deviceView struct {
	*models.Device
	Status models.DeviceStatus `json:"status"`
	Stale  bool                `json:"stale"`
}

func (s *Server) deviceViews(devices []*models.Device) []deviceView {
	now := time.Now().UTC()
	views := make([]deviceView, 0, len(devices))

	for _, d := range devices {
		views = append(views, deviceView{
			Device: d,
			Status: d.Status(),
			Stale:  d.Stale(s.pingInterval, now),
		})
	}

	return views
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.DeviceFilter{
		BranchID:    q.Get("branch"),
		Region:      q.Get("region"),
		Vendor:      q.Get("vendor"),
		DeviceType:  q.Get("device_type"),
		EnabledOnly: q.Get("enabled") == "true",
	}

	if filter.BranchID == "" {
		filter.BranchID = q.Get("branch_id")
	}

	status := q.Get("status")

	cacheKey := cache.KeyDeviceListPrefix + filter.BranchID + "|" + filter.Region + "|" +
		filter.Vendor + "|" + filter.DeviceType + "|" + q.Get("enabled") + "|" + status

	if cached, ok := s.cache.Get(cacheKey); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	devices, err := s.store.ListDevices(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	views := s.deviceViews(devices)

	// Status is derived, so it filters after the query.
	if status != "" {
		filtered := views[:0]
		for _, v := range views {
			if string(v.Status) == status {
				filtered = append(filtered, v)
			}
		}

		views = filtered
	}

	s.cache.Set(cacheKey, views, time.Duration(s.cacheTTL.DeviceListTTL))

	s.writeJSON(w, http.StatusOK, views)
}

// deviceDetail is the full single-device view: identity, derived status,
// latest probe, open alerts and configured monitoring.
type deviceDetail struct {
	deviceView
	LastPing     *models.PingResult       `json:"last_ping,omitempty"`
	ActiveAlerts []*models.AlertEvent     `json:"active_alerts"`
	Items        []*models.MonitoringItem `json:"items"`
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	dev, err := s.store.GetDevice(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	detail := deviceDetail{deviceView: deviceView{
		Device: dev,
		Status: dev.Status(),
		Stale:  dev.Stale(s.pingInterval, time.Now().UTC()),
	}}

	detail.LastPing = s.latestPing(r.Context(), id)

	if alerts, err := s.store.ListAlerts(r.Context(), db.AlertFilter{DeviceID: id, ActiveOnly: true}); err == nil {
		detail.ActiveAlerts = alerts
	}

	if items, err := s.store.ListItems(r.Context(), id); err == nil {
		detail.Items = items
	}

	s.writeJSON(w, http.StatusOK, detail)
}

// latestPing serves the most recent probe through a short-TTL cache. A device
// with no history yet reads as nil.
func (s *Server) latestPing(ctx context.Context, deviceID string) *models.PingResult {
	key := cache.KeyLatestPingPrefix + deviceID

	if cached, ok := s.cache.Get(key); ok {
		if ping, ok := cached.(*models.PingResult); ok {
			return ping
		}
	}

	ping, err := s.store.LatestPingResult(ctx, deviceID)
	if err != nil {
		return nil
	}

	s.cache.Set(key, ping, time.Duration(s.cacheTTL.LatestPingTTL))

	return ping
}

func validateDevice(d *models.Device) string {
	if d.Name == "" {
		return "name is required"
	}

	if net.ParseIP(d.IP) == nil {
		return "a valid ip is required"
	}

	return ""
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var dev models.Device
	if !s.decodeBody(w, r, &dev) {
		return
	}

	if msg := validateDevice(&dev); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	if dev.ID == "" {
		dev.ID = uuid.New().String()
	}

	if err := s.store.CreateDevice(r.Context(), &dev); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.invalidateDeviceReads()
	s.writeJSON(w, http.StatusCreated, &dev)
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var dev models.Device
	if !s.decodeBody(w, r, &dev) {
		return
	}

	dev.ID = mux.Vars(r)["id"]

	if msg := validateDevice(&dev); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.store.UpdateDevice(r.Context(), &dev); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.invalidateDeviceReads()
	s.writeJSON(w, http.StatusOK, &dev)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.store.DeleteDevice(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.invalidateDeviceReads()
	s.cache.Invalidate(cache.KeyLatestPingPrefix + id)
	s.writeJSON(w, http.StatusNoContent, nil)
}

// importColumns is the required CSV header for bulk device import.
var importColumns = []string{"name", "ip"}

type importResult struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// handleImportDevices ingests a CSV with a header row. Required columns are
// name and ip; branch_id, vendor, device_type, location and hostname are
// optional. Rows failing validation are skipped and reported; the rows that
// validate are inserted in a single transaction.
func (s *Server) handleImportDevices(w http.ResponseWriter, r *http.Request) {
	reader := csv.NewReader(r.Body)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing CSV header")
		return
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, required := range importColumns {
		if _, ok := col[required]; !ok {
			s.writeError(w, http.StatusBadRequest, "CSV header must include "+required)
			return
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}

		return strings.TrimSpace(row[i])
	}

	result := importResult{}

	var pending []*models.Device

	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, "line "+strconv.Itoa(line)+": "+err.Error())

			continue
		}

		dev := models.Device{
			ID:         uuid.New().String(),
			Name:       field(row, "name"),
			IP:         field(row, "ip"),
			Hostname:   field(row, "hostname"),
			Vendor:     field(row, "vendor"),
			DeviceType: field(row, "device_type"),
			Location:   field(row, "location"),
			Enabled:    true,
		}

		if branch := field(row, "branch_id"); branch != "" {
			dev.BranchID = &branch
		}

		if msg := validateDevice(&dev); msg != "" {
			result.Failed++
			result.Errors = append(result.Errors, "line "+strconv.Itoa(line)+": "+msg)

			continue
		}

		pending = append(pending, &dev)
	}

	// All-or-nothing for the rows that validated.
	if err := s.store.CreateDevices(r.Context(), pending); err != nil {
		s.writeStoreError(w, err)
		return
	}

	result.Successful = len(pending)
	result.Total = result.Successful + result.Failed

	s.invalidateDeviceReads()
	s.logger.Info().Int("successful", result.Successful).Int("failed", result.Failed).Msg("Device import")
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDevicePings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	since := time.Now().UTC().Add(-time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}

		since = parsed
	}

	limit := parseLimit(r, 1000)

	pings, err := s.store.ListPingResults(r.Context(), id, since, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, pings)
}

func (s *Server) handleDeviceAvailability(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}

		window = parsed
	}

	pct, err := s.store.DeviceAvailability(r.Context(), id, time.Now().UTC().Add(-window))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id":        id,
		"window":           window.String(),
		"availability_pct": pct,
	})
}

func (s *Server) handleDeviceInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := s.store.ListInterfaces(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ifaces)
}

func (s *Server) handleDeviceStatusHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := s.store.ListStatusChanges(r.Context(), mux.Vars(r)["id"], parseLimit(r, 200))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, changes)
}

func (s *Server) invalidateDeviceReads() {
	s.cache.InvalidatePrefix(cache.KeyDeviceListPrefix)
	s.cache.Invalidate(cache.KeyDashboardStats)
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}

	return n
}
