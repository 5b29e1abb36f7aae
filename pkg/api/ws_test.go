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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

func TestTokenBucket(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tb := newTokenBucket(3, 1) // 3 burst, 1/s refill
	tb.lastRef = now

	assert.True(t, tb.take(now))
	assert.True(t, tb.take(now))
	assert.True(t, tb.take(now))
	assert.False(t, tb.take(now), "bucket exhausted")

	assert.True(t, tb.take(now.Add(time.Second)), "refilled after a second")
	assert.False(t, tb.take(now.Add(time.Second)))
}

func TestHubCoalescesStatusChanges(t *testing.T) {
	cfg := &models.APIConfig{ListenAddr: ":0", HandshakesPerMin: 30}
	hub := NewHub(cfg, logger.NewTestLogger())

	hub.BroadcastStatusChange(&models.StatusChange{DeviceID: "d1", NewStatus: models.DeviceStatusDown})
	hub.BroadcastStatusChange(&models.StatusChange{DeviceID: "d2", NewStatus: models.DeviceStatusUp})

	hub.flushStatus()

	select {
	case payload := <-hub.broadcast:
		var frame statusFrame
		require.NoError(t, json.Unmarshal(payload, &frame))
		assert.Equal(t, "status_change", frame.Type)
		assert.Len(t, frame.Changes, 2, "both transitions ride one frame")
	default:
		t.Fatal("expected a coalesced broadcast")
	}

	// Nothing pending: flush is silent.
	hub.flushStatus()

	select {
	case <-hub.broadcast:
		t.Fatal("unexpected broadcast with nothing pending")
	default:
	}
}

func TestHubAllowHandshake(t *testing.T) {
	cfg := &models.APIConfig{ListenAddr: ":0", HandshakesPerMin: 2}
	hub := NewHub(cfg, logger.NewTestLogger())

	assert.True(t, hub.allowHandshake("192.0.2.1"))
	assert.True(t, hub.allowHandshake("192.0.2.1"))
	assert.False(t, hub.allowHandshake("192.0.2.1"), "third handshake in the window is refused")

	assert.True(t, hub.allowHandshake("192.0.2.2"), "other sources are unaffected")
}
