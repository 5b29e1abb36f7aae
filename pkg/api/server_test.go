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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netwatch/pkg/crypto/secrets"
	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

// fakeService embeds the interface so only the methods a test touches need
// real bodies; anything else panics loudly.
type fakeService struct {
	db.Service

	devices map[string]*models.Device
	created []*models.Device
	rules   []*models.AlertRule
	alerts  []*models.AlertEvent
	creds   []*models.SNMPCredential

	alertFilter db.AlertFilter

	acked   []string
	listErr error
	pingErr error

	unresolvedCalls int
}

func newFakeService() *fakeService {
	return &fakeService{devices: make(map[string]*models.Device)}
}

func (f *fakeService) ListDevices(context.Context, db.DeviceFilter) ([]*models.Device, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	out := make([]*models.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}

	return out, nil
}

func (f *fakeService) GetDevice(_ context.Context, id string) (*models.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, db.ErrNotFound
	}

	return d, nil
}

func (f *fakeService) CreateDevice(_ context.Context, d *models.Device) error {
	f.devices[d.ID] = d
	f.created = append(f.created, d)

	return nil
}

func (f *fakeService) CreateDevices(ctx context.Context, devs []*models.Device) error {
	for _, d := range devs {
		if err := f.CreateDevice(ctx, d); err != nil {
			return err
		}
	}

	return nil
}

func (f *fakeService) Ping(context.Context) error { return f.pingErr }

func (f *fakeService) LatestPingResult(context.Context, string) (*models.PingResult, error) {
	return nil, db.ErrNotFound
}

func (f *fakeService) ListAlerts(_ context.Context, filter db.AlertFilter) ([]*models.AlertEvent, error) {
	f.alertFilter = filter
	return f.alerts, nil
}

func (f *fakeService) UpsertCredential(_ context.Context, c *models.SNMPCredential) error {
	f.creds = append(f.creds, c)
	return nil
}

func (f *fakeService) ListItems(context.Context, string) ([]*models.MonitoringItem, error) {
	return nil, nil
}

func (f *fakeService) ListRules(context.Context, bool) ([]*models.AlertRule, error) {
	return f.rules, nil
}

func (f *fakeService) CreateRule(_ context.Context, r *models.AlertRule) error {
	f.rules = append(f.rules, r)
	return nil
}

func (f *fakeService) ListUnresolvedAlerts(context.Context) ([]*models.AlertEvent, error) {
	f.unresolvedCalls++
	return f.alerts, nil
}

func (f *fakeService) CountActiveAlerts(context.Context) (int, int, error) {
	return len(f.alerts), 0, nil
}

func (f *fakeService) AcknowledgeAlert(_ context.Context, id, _ string, _ time.Time) error {
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeService) GetAlert(_ context.Context, id string) (*models.AlertEvent, error) {
	for _, a := range f.alerts {
		if a.ID == id {
			return a, nil
		}
	}

	return nil, db.ErrNotFound
}

func newTestServer(t *testing.T, store db.Service, cfg *models.APIConfig) *Server {
	t.Helper()

	if cfg == nil {
		cfg = &models.APIConfig{ListenAddr: ":0"}
	}

	cacheCfg := &models.CacheConfig{
		DeviceListTTL:   models.Duration(30 * time.Second),
		DashboardTTL:    models.Duration(30 * time.Second),
		ActiveAlertsTTL: models.Duration(10 * time.Second),
		LatestPingTTL:   models.Duration(5 * time.Second),
	}

	return NewServer(cfg, cacheCfg, store, logger.NewTestLogger())
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	return rec
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, newFakeService(), &models.APIConfig{ListenAddr: ":0", APIKey: "sekrit"})

	rec := doJSON(t, srv, http.MethodGet, "/api/devices", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, newFakeService(), &models.APIConfig{
		ListenAddr:     ":0",
		APIKey:         "sekrit",
		AllowedOrigins: []string{"https://noc.example.com"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/devices", nil)
	req.Header.Set("Origin", "https://noc.example.com")

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	// Preflight passes without the API key.
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://noc.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListDevicesIncludesDerivedStatus(t *testing.T) {
	store := newFakeService()
	down := time.Now().UTC().Add(-time.Hour)
	store.devices["d1"] = &models.Device{ID: "d1", Name: "edge", IP: "10.0.0.1", DownSince: &down}

	srv := newTestServer(t, store, nil)
	rec := doJSON(t, srv, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []deviceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, models.DeviceStatusDown, views[0].Status)
}

func TestCreateDeviceValidation(t *testing.T) {
	srv := newTestServer(t, newFakeService(), nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/devices", `{"name":"sw1","ip":"not-an-ip"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/devices", `{"name":"sw1","ip":"10.1.2.3"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var dev models.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dev))
	assert.NotEmpty(t, dev.ID, "server assigns an ID")
}

func TestGetDeviceNotFound(t *testing.T) {
	srv := newTestServer(t, newFakeService(), nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/devices/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportDevicesCSV(t *testing.T) {
	store := newFakeService()
	srv := newTestServer(t, store, nil)

	csvBody := strings.Join([]string{
		"name,ip,vendor",
		"core-sw,10.0.0.1,cisco",
		"bad-row,not-an-ip,hp",
		"edge-rtr,10.0.0.2,mikrotik",
	}, "\n")

	req := httptest.NewRequest(http.MethodPost, "/api/devices/bulk/import", strings.NewReader(csvBody))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result importResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "line 3")
	assert.Len(t, store.created, 2)
}

func TestImportDevicesRequiresHeader(t *testing.T) {
	srv := newTestServer(t, newFakeService(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/devices/bulk/import", strings.NewReader("name\nonly-names"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRuleRejectsBadExpression(t *testing.T) {
	srv := newTestServer(t, newFakeService(), nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/rules",
		`{"name":"r","expression":"not a condition","severity":"high"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/rules",
		`{"name":"slow","expression":"high_latency(250)","severity":"high"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestActiveAlertsCached(t *testing.T) {
	store := newFakeService()
	store.alerts = []*models.AlertEvent{{ID: "a1", DeviceID: "d1", Severity: models.SeverityCritical}}

	srv := newTestServer(t, store, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/alerts/realtime", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/alerts/realtime", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, store.unresolvedCalls, "second read served from cache")
}

func TestAcknowledgeAlertRequiresActor(t *testing.T) {
	store := newFakeService()
	store.alerts = []*models.AlertEvent{{ID: "a1", DeviceID: "d1"}}

	srv := newTestServer(t, store, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/alerts/a1/acknowledge", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/alerts/a1/acknowledge", `{"by":"noc-op"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1"}, store.acked)
}

func TestHealthReportsComponents(t *testing.T) {
	store := newFakeService()
	srv := newTestServer(t, store, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthHealthy, resp.Status)
	assert.Equal(t, healthHealthy, resp.Components["database"].Status)
	assert.Equal(t, healthDisabled, resp.Components["telemetry"].Status)
	assert.Equal(t, healthDisabled, resp.Components["workers"].Status)
}

func TestHealthDegradesOnDatabaseFailure(t *testing.T) {
	store := newFakeService()
	store.pingErr = errors.New("connection refused")

	srv := newTestServer(t, store, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthDegraded, resp.Status)
	assert.Equal(t, healthDegraded, resp.Components["database"].Status)
	assert.Contains(t, resp.Components["database"].Error, "connection refused")
}

func TestUpsertCredentialWithoutCipher(t *testing.T) {
	srv := newTestServer(t, newFakeService(), nil)

	rec := doJSON(t, srv, http.MethodPut, "/api/devices/d1/credentials",
		`{"version":"v2c","community":"public"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListAlertsStatusFilter(t *testing.T) {
	store := newFakeService()
	srv := newTestServer(t, store, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/alerts?status=active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.alertFilter.ActiveOnly)

	rec = doJSON(t, srv, http.MethodGet, "/api/alerts?status=all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, store.alertFilter.ActiveOnly)

	rec = doJSON(t, srv, http.MethodGet, "/api/alerts?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertCredentialRejectsUnsafeCommunity(t *testing.T) {
	cipher, err := secrets.NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	store := newFakeService()
	cacheCfg := &models.CacheConfig{}
	srv := NewServer(&models.APIConfig{ListenAddr: ":0"}, cacheCfg, store, logger.NewTestLogger(), WithCipher(cipher))

	rec := doJSON(t, srv, http.MethodPut, "/api/devices/d1/credentials",
		`{"version":"v2c","community":"pub lic; drop"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.creds)

	rec = doJSON(t, srv, http.MethodPut, "/api/devices/d1/credentials",
		`{"version":"v2c","community":"branch-ro_2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.creds, 1)
	assert.NotEqual(t, "branch-ro_2", store.creds[0].CommunityEnc, "stored form is encrypted")
}

func TestUpsertCredentialRejectsUnsafeSecurityName(t *testing.T) {
	cipher, err := secrets.NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	store := newFakeService()
	srv := NewServer(&models.APIConfig{ListenAddr: ":0"}, &models.CacheConfig{}, store, logger.NewTestLogger(), WithCipher(cipher))

	rec := doJSON(t, srv, http.MethodPut, "/api/devices/d1/credentials",
		`{"version":"v3","security_name":"noc admin","auth_pass":"hunter22"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.creds)
}
