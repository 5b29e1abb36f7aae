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

// Package events publishes status and alert CloudEvents to NATS JetStream for
// downstream consumers. Publishing is optional and best effort; a missing or
// unreachable broker never blocks monitoring.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
)

const (
	eventSource = "netwatch/monitor"

	subjectStatusChange  = "events.device.status"
	subjectAlertFired    = "events.alert.fired"
	subjectAlertResolved = "events.alert.resolved"

	typeStatusChange  = "com.carverauto.netwatch.device.status"
	typeAlertFired    = "com.carverauto.netwatch.alert.fired"
	typeAlertResolved = "com.carverauto.netwatch.alert.resolved"
)

// CloudEvent is the CloudEvents 1.0 envelope used on the wire.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data"`
}

// Publisher sends CloudEvents to a JetStream stream.
type Publisher struct {
	js     jetstream.JetStream
	stream string
	logger logger.Logger
}

// Connect dials NATS, ensures the stream exists and returns a Publisher plus
// the connection for shutdown. An empty URL returns a nil Publisher, which
// safely no-ops.
func Connect(ctx context.Context, cfg *models.NATSConfig, log logger.Logger) (*Publisher, *nats.Conn, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, nil, nil
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "netwatch-events"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.Stream(ctx, stream); err != nil {
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     stream,
			Subjects: []string{"events.device.*", "events.alert.*"},
		})
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("failed to create or get stream %s: %w", stream, err)
		}
	}

	return &Publisher{js: js, stream: stream, logger: log.WithComponent("events")}, nc, nil
}

// PublishStatusChange emits one committed device transition.
func (p *Publisher) PublishStatusChange(ctx context.Context, sc *models.StatusChange) error {
	if p == nil {
		return nil
	}

	return p.publish(ctx, subjectStatusChange, typeStatusChange, sc.Timestamp, sc)
}

// PublishAlertFired emits a newly opened alert.
func (p *Publisher) PublishAlertFired(ctx context.Context, e *models.AlertEvent) error {
	if p == nil {
		return nil
	}

	return p.publish(ctx, subjectAlertFired, typeAlertFired, e.TriggeredAt, e)
}

// PublishAlertResolved emits an alert resolution.
func (p *Publisher) PublishAlertResolved(ctx context.Context, e *models.AlertEvent) error {
	if p == nil {
		return nil
	}

	ts := e.TriggeredAt
	if e.ResolvedAt != nil {
		ts = *e.ResolvedAt
	}

	return p.publish(ctx, subjectAlertResolved, typeAlertResolved, ts, e)
}

func (p *Publisher) publish(ctx context.Context, subject, eventType string, ts time.Time, data interface{}) error {
	event := CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            eventType,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &ts,
		Data:            data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", subject).
		Uint64("seq", ack.Sequence).
		Msg("Published event")

	return nil
}
