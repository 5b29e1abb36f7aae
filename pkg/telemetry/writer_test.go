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

package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

func sample(metric string, value float64) *models.Sample {
	return &models.Sample{
		Metric:    metric,
		Labels:    map[string]string{"device": "d1", "ip": "10.0.0.1"},
		Value:     value,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func newTestWriter(url string, bufSize int) *Writer {
	w := NewWriter(&models.TelemetryConfig{
		URL:        url,
		BufferSize: bufSize,
		MaxRetries: 1,
	}, logger.NewTestLogger())
	w.sleep = func(time.Duration) {}

	return w
}

func TestEncodeLineDeterministic(t *testing.T) {
	got := encodeBatch([]*models.Sample{sample("ping_rtt_ms", 12.5)})

	assert.Equal(t, "ping_rtt_ms,device=d1,ip=10.0.0.1 value=12.5 1700000000000000000\n", got)
}

func TestEncodeLineEscapesSpecials(t *testing.T) {
	got := encodeBatch([]*models.Sample{{
		Metric:    "if octets",
		Labels:    map[string]string{"alias": "TELMEX, uplink=1"},
		Value:     1,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}})

	assert.Equal(t, `if\ octets,alias=TELMEX\,\ uplink\=1 value=1 1700000000000000000`+"\n", got)
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	w := newTestWriter("", 3)

	for i := 0; i < 5; i++ {
		w.Enqueue(sample("m", float64(i)))
	}

	assert.Equal(t, 3, w.Pending())
	assert.Equal(t, int64(2), w.Dropped())

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, float64(2), w.buf[0].Value, "oldest two should be gone")
	assert.Equal(t, float64(4), w.buf[2].Value)
}

func TestFlushDeliversBatch(t *testing.T) {
	var body atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body.Store(string(b))
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := newTestWriter(srv.URL, 100)
	w.Enqueue(sample("ping_rtt_ms", 9.5))
	w.Enqueue(sample("ping_loss_pct", 0))

	w.Flush(context.Background())

	require.NotNil(t, body.Load())
	assert.Contains(t, body.Load().(string), "ping_rtt_ms")
	assert.Contains(t, body.Load().(string), "ping_loss_pct")
	assert.Zero(t, w.Pending())
	assert.Zero(t, w.Dropped())
}

func TestFlushRetriesThenCountsDrop(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := newTestWriter(srv.URL, 100)
	w.Enqueue(sample("m", 1))

	w.Flush(context.Background())

	assert.Equal(t, int32(2), calls.Load(), "one attempt plus one retry")
	assert.Equal(t, int64(1), w.Dropped())
}

func TestClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := newTestWriter(srv.URL, 100)
	w.Enqueue(sample("m", 1))

	w.Flush(context.Background())

	assert.Equal(t, int32(1), calls.Load())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	now := time.Unix(2000, 0)
	w := newTestWriter(srv.URL, 100)
	w.clock = func() time.Time { return now }

	for i := 0; i < breakerThreshold; i++ {
		w.Enqueue(sample("m", float64(i)))
		w.Flush(context.Background())
	}

	w.mu.Lock()
	open := w.openUntil.After(now)
	w.mu.Unlock()
	require.True(t, open, "breaker should be open")

	// While open, flushes drop without touching the backend.
	srv.Close()

	w.Enqueue(sample("m", 99))
	dropped := w.Dropped()

	w.Flush(context.Background())
	assert.Equal(t, dropped+1, w.Dropped())

	// After the cooldown the breaker closes again.
	now = now.Add(breakerCooldown + time.Second)

	ok := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()

	w.url = ok.URL
	w.Enqueue(sample("m", 100))
	w.Flush(context.Background())

	w.mu.Lock()
	failures := w.consecutiveFailures
	w.mu.Unlock()
	assert.Zero(t, failures)
}
