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
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

const (
	wsWriteWait      = 10 * time.Second
	wsSendBuffer     = 64
	wsCoalesceWindow = time.Second
)

// wsMessage is the envelope for alert and heartbeat frames.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Time time.Time   `json:"time"`
}

// statusFrame carries one coalesced batch of committed transitions.
type statusFrame struct {
	Type    string                 `json:"type"`
	Changes []*models.StatusChange `json:"changes"`
	Time    time.Time              `json:"time"`
}

// Hub fans committed status changes and alert activity out to websocket
// clients. Status changes are coalesced for one second so a flapping fleet
// cannot melt browsers; alert activity goes out immediately.
type Hub struct {
	cfg    *models.APIConfig
	logger logger.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	pendingMu sync.Mutex
	pending   []*models.StatusChange

	limiterMu sync.Mutex
	limiters  map[string]*tokenBucket
}

// NewHub builds an idle hub; Run starts delivery.
func NewHub(cfg *models.APIConfig, log logger.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		logger:     log.WithComponent("websocket"),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*wsClient]struct{}),
		limiters:   make(map[string]*tokenBucket),
	}
}

// Run owns the client set until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	flush := time.NewTicker(wsCoalesceWindow)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()

			h.logger.Debug().Str("remote", c.remote).Int("clients", h.ClientCount()).Msg("Client connected")
		case c := <-h.unregister:
			h.drop(c)
		case payload := <-h.broadcast:
			h.send(payload)
		case <-flush.C:
			h.flushStatus()
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		h.logger.Debug().Str("remote", c.remote).Int("clients", h.ClientCount()).Msg("Client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// send delivers to every client, dropping clients whose buffers are full
// rather than blocking the hub.
func (h *Hub) send(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients)
}

// BroadcastStatusChange queues one transition for the next coalesced flush.
func (h *Hub) BroadcastStatusChange(sc *models.StatusChange) {
	h.pendingMu.Lock()
	h.pending = append(h.pending, sc)
	h.pendingMu.Unlock()
}

// BroadcastAlert pushes alert activity immediately.
func (h *Hub) BroadcastAlert(kind string, e *models.AlertEvent) {
	h.enqueue(kind, e)
}

func (h *Hub) flushStatus() {
	h.pendingMu.Lock()
	pending := h.pending
	h.pending = nil
	h.pendingMu.Unlock()

	if len(pending) == 0 {
		return
	}

	h.push("status_change", statusFrame{Type: "status_change", Changes: pending, Time: time.Now().UTC()})
}

func (h *Hub) enqueue(msgType string, data interface{}) {
	h.push(msgType, wsMessage{Type: msgType, Data: data, Time: time.Now().UTC()})
}

func (h *Hub) push(msgType string, frame interface{}) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to marshal broadcast")
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn().Str("type", msgType).Msg("Broadcast queue full, dropping message")
	}
}

// allowHandshake rate limits websocket handshakes per source IP.
func (h *Hub) allowHandshake(ip string) bool {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()

	tb, ok := h.limiters[ip]
	if !ok {
		tb = newTokenBucket(float64(h.cfg.HandshakesPerMin), float64(h.cfg.HandshakesPerMin)/60.0)
		h.limiters[ip] = tb
	}

	return tb.take(time.Now())
}

// tokenBucket is a minimal refill-on-read limiter.
type tokenBucket struct {
	tokens  float64
	cap     float64
	rate    float64 // tokens per second
	lastRef time.Time
}

func newTokenBucket(capacity, rate float64) *tokenBucket {
	return &tokenBucket{tokens: capacity, cap: capacity, rate: rate, lastRef: time.Now()}
}

func (tb *tokenBucket) take(now time.Time) bool {
	tb.tokens += now.Sub(tb.lastRef).Seconds() * tb.rate
	if tb.tokens > tb.cap {
		tb.tokens = tb.cap
	}

	tb.lastRef = now

	if tb.tokens < 1 {
		return false
	}

	tb.tokens--

	return true
}

// wsClient is one connected browser or agent.
type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.hub.allowHandshake(ip) {
		s.writeError(w, http.StatusTooManyRequests, "handshake rate limit exceeded")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin.
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", ip).Msg("Websocket upgrade failed")
		return
	}

	client := &wsClient{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		remote: ip,
	}

	s.hub.register <- client

	go client.writePump(time.Duration(s.cfg.HeartbeatInterval))
	go client.readPump(time.Duration(s.cfg.HeartbeatTimeout))
}

// readPump consumes client frames. Any inbound message, including the
// heartbeat reply, refreshes the liveness deadline; a silent client is
// dropped after the timeout.
func (c *wsClient) readPump(timeout time.Duration) {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
}

// writePump delivers hub payloads and emits the application-level heartbeat.
func (c *wsClient) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

			beat, _ := json.Marshal(wsMessage{Type: "heartbeat", Time: time.Now().UTC()})
			if err := c.conn.WriteMessage(websocket.TextMessage, beat); err != nil {
				return
			}
		}
	}
}
