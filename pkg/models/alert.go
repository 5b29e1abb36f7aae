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

package models

import "time"

// Severity orders alert importance for dashboards and dedup decisions.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// AlertRule is an enabled predicate evaluated by the alert engine. Expression
// is one of a closed set of condition families; strings that do not parse are
// skipped with a warning, never guessed.
type AlertRule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Expression  string   `json:"expression"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`

	// Optional scoping. Empty fields mean the rule is global.
	DeviceID         *string `json:"device_id,omitempty"`
	BranchID         *string `json:"branch_id,omitempty"`
	Provider         string  `json:"provider,omitempty"`
	InterfacePattern string  `json:"interface_pattern,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertEvent is one row of alert history. At most one unresolved event exists
// per (rule, device, interface) fingerprint; ping-only alerts carry a nil
// RuleID and participate in the same invariant.
type AlertEvent struct {
	ID             string     `json:"id"`
	RuleID         *string    `json:"rule_id,omitempty"`
	DeviceID       string     `json:"device_id"`
	InterfaceID    *int64     `json:"interface_id,omitempty"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	Value          *float64   `json:"value,omitempty"`
	Provider       string     `json:"provider,omitempty"`
	TriggeredAt    time.Time  `json:"triggered_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Resolved reports whether the event has been auto-resolved or closed.
func (e *AlertEvent) Resolved() bool { return e.ResolvedAt != nil }

// Fingerprint is the dedup key for the unresolved-row invariant.
func (e *AlertEvent) Fingerprint() AlertFingerprint {
	fp := AlertFingerprint{DeviceID: e.DeviceID}
	if e.RuleID != nil {
		fp.RuleID = *e.RuleID
	}

	if e.InterfaceID != nil {
		fp.InterfaceID = *e.InterfaceID
	} else {
		fp.InterfaceID = -1
	}

	return fp
}

// AlertFingerprint identifies the (rule, device, interface) triple under which
// at most one unresolved alert may exist. A missing rule is the empty string;
// a missing interface is -1.
type AlertFingerprint struct {
	RuleID      string
	DeviceID    string
	InterfaceID int64
}
