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

package scheduler

import (
	"context"
	"errors"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/netwatch/pkg/db"
	"github.com/carverauto/netwatch/pkg/logger"
	"github.com/carverauto/netwatch/pkg/models"
	"github.com/carverauto/netwatch/pkg/snmp"
)

// ClientFactory builds connected SNMP clients.
type ClientFactory interface {
	Connect(target string, cred *models.SNMPCredential) (*gosnmp.GoSNMP, error)
}

// snmpRunner executes poll and scan jobs. SNMP failures never feed the status
// engine; an unreachable agent on a pingable device is a polling problem.
type snmpRunner struct {
	factory ClientFactory
	store   Store
	sink    Sink
	logger  logger.Logger
}

func newSNMPRunner(factory ClientFactory, store Store, sink Sink, log logger.Logger) *snmpRunner {
	return &snmpRunner{
		factory: factory,
		store:   store,
		sink:    sink,
		logger:  log.WithComponent("snmp"),
	}
}

func (r *snmpRunner) enabled() bool { return r.factory != nil }

// poll fetches one monitoring item. A failing item reports only itself;
// sibling items on the same device run independently.
func (r *snmpRunner) poll(ctx context.Context, dev *models.Device, item *models.MonitoringItem) {
	client, ok := r.connect(ctx, dev)
	if !ok {
		return
	}
	defer func() { _ = client.Conn.Close() }()

	values, err := snmp.PollItem(client, item)
	if err != nil {
		r.handlePollError(ctx, dev, item, err)
		return
	}

	if dev.CredentialError {
		if err := r.store.SetCredentialError(ctx, dev.ID, false); err != nil {
			r.logger.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to clear credential error")
		}
	}

	for _, v := range values {
		if err := r.store.UpsertItemValue(ctx, v); err != nil {
			r.logger.Error().Err(err).Str("item_id", item.ID).Msg("Failed to store item value")
			continue
		}

		if f, ok := v.Float(); ok {
			r.sink.Enqueue(&models.Sample{
				Metric:    v.Name,
				Labels:    map[string]string{"device_id": dev.ID, "ip": dev.IP, "oid": v.OID},
				Value:     f,
				Timestamp: v.Timestamp,
			})
		}
	}
}

// scan refreshes the device's interface snapshot.
func (r *snmpRunner) scan(ctx context.Context, dev *models.Device) {
	client, ok := r.connect(ctx, dev)
	if !ok {
		return
	}
	defer func() { _ = client.Conn.Close() }()

	ifaces, err := snmp.ScanInterfaces(client, dev.ID)
	if err != nil {
		if snmp.IsAuthError(err) {
			r.flagCredentialError(ctx, dev)
			return
		}

		r.logger.Warn().Err(err).Str("device_id", dev.ID).Msg("Interface scan failed")

		return
	}

	if err := r.store.UpsertInterfaces(ctx, dev.ID, ifaces); err != nil {
		r.logger.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to store interfaces")
		return
	}

	r.logger.Debug().Str("device_id", dev.ID).Int("interfaces", len(ifaces)).Msg("Interface scan complete")
}

// connect loads the device credential and dials the agent. Devices without a
// stored credential are silently skipped.
func (r *snmpRunner) connect(ctx context.Context, dev *models.Device) (*gosnmp.GoSNMP, bool) {
	cred, err := r.store.GetCredential(ctx, dev.ID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			r.logger.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to load credential")
		}

		return nil, false
	}

	client, err := r.factory.Connect(dev.IP, cred)
	if err != nil {
		r.logger.Warn().Err(err).Str("device_id", dev.ID).Str("ip", dev.IP).Msg("SNMP connect failed")
		return nil, false
	}

	return client, true
}

func (r *snmpRunner) handlePollError(ctx context.Context, dev *models.Device, item *models.MonitoringItem, err error) {
	if snmp.IsAuthError(err) {
		r.flagCredentialError(ctx, dev)
		return
	}

	r.logger.Warn().
		Err(err).
		Str("device_id", dev.ID).
		Str("item_id", item.ID).
		Str("oid", item.OID).
		Msg("Item poll failed")
}

func (r *snmpRunner) flagCredentialError(ctx context.Context, dev *models.Device) {
	r.logger.Warn().Str("device_id", dev.ID).Str("ip", dev.IP).Msg("SNMP credentials rejected")

	if dev.CredentialError {
		return
	}

	if err := r.store.SetCredentialError(ctx, dev.ID, true); err != nil {
		r.logger.Error().Err(err).Str("device_id", dev.ID).Msg("Failed to flag credential error")
	}
}
