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

// Package telemetry ships probe and poll samples to the line-oriented
// time-series backend. Delivery is best effort: a slow or dead backend costs
// buffered samples, never probe throughput.
package telemetry

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

const (
	defaultBufferSize    = 8192
	defaultFlushInterval = 10 * time.Second
	defaultTimeout       = 5 * time.Second
	defaultMaxRetries    = 3
	retryBackoffBase     = 500 * time.Millisecond

	breakerThreshold = 3
	breakerCooldown  = 30 * time.Second
)

// Writer buffers samples and flushes them to the backend on an interval.
type Writer struct {
	url           string
	client        *http.Client
	flushInterval time.Duration
	maxRetries    int
	logger        logger.Logger

	mu     sync.Mutex
	buf    []*models.Sample
	bufCap int

	dropped atomic.Int64

	// circuit breaker state, guarded by mu
	consecutiveFailures int
	openUntil           time.Time

	// clock and sleep are swappable in tests.
	clock func() time.Time
	sleep func(time.Duration)
}

// NewWriter builds a Writer from config. A nil URL disables shipping; Enqueue
// becomes a counter-only sink.
func NewWriter(cfg *models.TelemetryConfig, log logger.Logger) *Writer {
	bufCap := cfg.BufferSize
	if bufCap <= 0 {
		bufCap = defaultBufferSize
	}

	flush := time.Duration(cfg.FlushInterval)
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	return &Writer{
		url:           cfg.URL,
		client:        &http.Client{Timeout: timeout},
		flushInterval: flush,
		maxRetries:    retries,
		logger:        log.WithComponent("telemetry"),
		buf:           make([]*models.Sample, 0, bufCap),
		bufCap:        bufCap,
		clock:         time.Now,
		sleep:         time.Sleep,
	}
}

// Enqueue buffers one sample. When the buffer is full the oldest sample is
// dropped so recent data survives a backend outage.
func (w *Writer) Enqueue(s *models.Sample) {
	w.mu.Lock()

	if len(w.buf) >= w.bufCap {
		w.buf = w.buf[1:]
		w.dropped.Add(1)
	}

	w.buf = append(w.buf, s)
	w.mu.Unlock()
}

// Dropped reports how many samples were discarded since startup.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// BreakerOpen reports whether the circuit breaker is currently rejecting
// flushes.
func (w *Writer) BreakerOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.clock().Before(w.openUntil)
}

// Pending reports the current buffer depth.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.buf)
}

// Run flushes on the configured interval until the context is cancelled, then
// attempts one final flush.
func (w *Writer) Run(ctx context.Context) error {
	if w.url == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
			w.Flush(flushCtx)
			cancel()

			return ctx.Err()
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush sends the buffered batch. On total failure the batch is dropped; the
// buffer never grows past its cap waiting for a dead backend.
func (w *Writer) Flush(ctx context.Context) {
	w.mu.Lock()

	if len(w.buf) == 0 {
		w.mu.Unlock()
		return
	}

	if w.clock().Before(w.openUntil) {
		// Breaker open: discard so the buffer keeps rolling forward.
		w.dropped.Add(int64(len(w.buf)))
		w.buf = w.buf[:0]
		w.mu.Unlock()

		return
	}

	batch := make([]*models.Sample, len(w.buf))
	copy(batch, w.buf)
	w.buf = w.buf[:0]
	w.mu.Unlock()

	err := w.post(ctx, encodeBatch(batch))

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.consecutiveFailures++
		w.dropped.Add(int64(len(batch)))

		if w.consecutiveFailures >= breakerThreshold {
			w.openUntil = w.clock().Add(breakerCooldown)
			w.logger.Warn().
				Int("failures", w.consecutiveFailures).
				Dur("cooldown", breakerCooldown).
				Msg("Telemetry breaker open")
		}

		w.logger.Error().Err(err).Int("samples", len(batch)).Msg("Telemetry flush failed")

		return
	}

	w.consecutiveFailures = 0
	w.openUntil = time.Time{}
}

// post writes the payload with bounded retries and jittered backoff.
func (w *Writer) post(ctx context.Context, payload string) error {
	var lastErr error

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffBase << (attempt - 1)
			backoff += time.Duration(rand.Int63n(int64(retryBackoffBase)))
			w.sleep(backoff)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, strings.NewReader(payload))
		if err != nil {
			return err
		}

		req.Header.Set("Content-Type", "text/plain; charset=utf-8")

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("backend returned %s", resp.Status)

		// Client errors will not improve on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
	}

	return lastErr
}
