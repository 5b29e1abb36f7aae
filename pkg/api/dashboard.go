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
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/carverauto/netwatch/pkg/cache"
	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/models"
)

// handleDashboardStats aggregates fleet counts for the overview page. Cached,
// because every dashboard session polls it.
func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.cache.Get(cache.KeyDashboardStats); ok {
		s.writeJSON(w, http.StatusOK, cached)
		return
	}

	devices, err := s.store.ListDevices(r.Context(), db.DeviceFilter{EnabledOnly: true})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	stats := models.DashboardStats{Total: len(devices)}

	for _, d := range devices {
		switch d.Status() {
		case models.DeviceStatusUp:
			stats.Online++
		case models.DeviceStatusDown:
			stats.Offline++
		case models.DeviceStatusFlapping, models.DeviceStatusUnknown:
			stats.Warning++
		}
	}

	if stats.Total > 0 {
		stats.UptimePct = 100.0 * float64(stats.Online) / float64(stats.Total)
	}

	total, critical, err := s.store.CountActiveAlerts(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	stats.ActiveAlerts = total
	stats.CriticalAlerts = critical

	s.cache.Set(cache.KeyDashboardStats, stats, time.Duration(s.cacheTTL.DashboardTTL))
	s.writeJSON(w, http.StatusOK, stats)
}

const (
	healthHealthy  = "healthy"
	healthDegraded = "degraded"
	healthDisabled = "disabled"

	// A pipeline whose last tick is older than this is stuck.
	staleTickThreshold = 10 * time.Second
)

type healthResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]componentHealth `json:"components"`
	Clients    int                        `json:"ws_clients"`
	System     systemHealth               `json:"system"`
}

type componentHealth struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Detail interface{} `json:"detail,omitempty"`
}

type systemHealth struct {
	Goroutines int     `json:"goroutines"`
	MemUsedPct float64 `json:"mem_used_pct"`
	CPUPct     float64 `json:"cpu_pct"`
}

type cacheDetail struct {
	Entries int `json:"entries"`
}

type telemetryDetail struct {
	Dropped     int64 `json:"dropped"`
	Pending     int   `json:"pending"`
	BreakerOpen bool  `json:"breaker_open"`
}

// handleHealth reports overall and per-component liveness plus host pressure.
// Any degraded component degrades the whole report; host metric failures just
// read as zeros.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     healthHealthy,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]componentHealth, 4),
		Clients:    s.hub.ClientCount(),
		System:     systemHealth{Goroutines: runtime.NumGoroutine()},
	}

	degraded := func(c componentHealth) componentHealth {
		resp.Status = healthDegraded
		c.Status = healthDegraded

		return c
	}

	dbHealth := componentHealth{Status: healthHealthy}
	if err := s.store.Ping(r.Context()); err != nil {
		dbHealth = degraded(componentHealth{Error: err.Error()})
	}

	resp.Components["database"] = dbHealth

	resp.Components["cache"] = componentHealth{
		Status: healthHealthy,
		Detail: cacheDetail{Entries: s.cache.Len()},
	}

	switch {
	case s.telemetry == nil:
		resp.Components["telemetry"] = componentHealth{Status: healthDisabled}
	case s.telemetry.BreakerOpen():
		resp.Components["telemetry"] = degraded(componentHealth{Detail: telemetryDetail{
			Dropped:     s.telemetry.Dropped(),
			Pending:     s.telemetry.Pending(),
			BreakerOpen: true,
		}})
	default:
		resp.Components["telemetry"] = componentHealth{
			Status: healthHealthy,
			Detail: telemetryDetail{Dropped: s.telemetry.Dropped(), Pending: s.telemetry.Pending()},
		}
	}

	if s.sched == nil {
		resp.Components["workers"] = componentHealth{Status: healthDisabled}
	} else {
		h := s.sched.Health()
		workers := componentHealth{Status: healthHealthy, Detail: h}

		if h.QueueDepth >= h.QueueCap || time.Since(h.LastTick) > staleTickThreshold {
			workers = degraded(componentHealth{Detail: h})
		}

		resp.Components["workers"] = workers
	}

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.System.MemUsedPct = vm.UsedPercent
	}

	if pcts, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(pcts) > 0 {
		resp.System.CPUPct = pcts[0]
	}

	s.writeJSON(w, http.StatusOK, resp)
}
