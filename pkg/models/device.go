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

// DeviceStatus is the authoritative liveness state of a device.
type DeviceStatus string

const (
	DeviceStatusUnknown  DeviceStatus = "unknown"
	DeviceStatusUp       DeviceStatus = "up"
	DeviceStatusDown     DeviceStatus = "down"
	DeviceStatusFlapping DeviceStatus = "flapping"
)

// Device is a monitored network element. Identity is the ID alone; duplicate
// IPs are permitted and observed in real fleets, so IP lookups return a set.
type Device struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	IP            string  `json:"ip"`
	Hostname      string  `json:"hostname,omitempty"`
	Vendor        string  `json:"vendor,omitempty"`
	Model         string  `json:"model,omitempty"`
	DeviceType    string  `json:"device_type,omitempty"`
	DeviceSubtype string  `json:"device_subtype,omitempty"`
	Location      string  `json:"location,omitempty"`
	Description   string  `json:"description,omitempty"`
	BranchID      *string `json:"branch_id,omitempty"`

	Enabled bool   `json:"enabled"`
	SSHPort int    `json:"ssh_port,omitempty"`
	SSHUser string `json:"ssh_user,omitempty"`

	// Liveness state maintained by the status engine. DownSince is non-nil
	// iff the latest authoritative probe was unreachable.
	DownSince     *time.Time `json:"down_since,omitempty"`
	IsFlapping    bool       `json:"is_flapping"`
	FlapCount     int        `json:"flap_count"`
	FlappingSince *time.Time `json:"flapping_since,omitempty"`
	LastCheck     *time.Time `json:"last_check,omitempty"`
	LastRTTMs     *float64   `json:"last_rtt_ms,omitempty"`

	// CredentialError marks SNMP auth rejection. It is a per-device error
	// badge, never a DOWN observation.
	CredentialError bool `json:"credential_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status derives the presented state from the stored liveness fields.
func (d *Device) Status() DeviceStatus {
	switch {
	case d.IsFlapping:
		return DeviceStatusFlapping
	case d.DownSince != nil:
		return DeviceStatusDown
	case d.LastCheck == nil:
		return DeviceStatusUnknown
	default:
		return DeviceStatusUp
	}
}

// Stale reports whether the device has not been checked within three probe
// intervals.
func (d *Device) Stale(interval time.Duration, now time.Time) bool {
	if d.LastCheck == nil {
		return false
	}

	return now.Sub(*d.LastCheck) > 3*interval
}

// Branch groups devices by site. Deletion is refused while devices still
// reference the branch unless a cascade is requested explicitly.
type Branch struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Region      string    `json:"region,omitempty"`
	Code        string    `json:"code,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MonitoringItem is a per-device SNMP metric to collect. Owned by exactly one
// device and destroyed with it.
type MonitoringItem struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"device_id"`
	OID             string    `json:"oid"`
	Name            string    `json:"name"`
	IntervalSeconds int       `json:"interval_seconds"`
	ValueType       ValueType `json:"value_type"`
	Units           string    `json:"units,omitempty"`
	Tabular         bool      `json:"tabular,omitempty"`
	Enabled         bool      `json:"enabled"`
}

// ValueType declares how a polled SNMP value is normalized.
type ValueType string

const (
	ValueTypeInteger ValueType = "integer"
	ValueTypeFloat   ValueType = "float"
	ValueTypeString  ValueType = "string"
	ValueTypeCounter ValueType = "counter"
)

// MinItemInterval is the floor for monitoring item intervals.
const MinItemInterval = 10

// SNMPVersion selects the protocol dialect for a device.
type SNMPVersion string

const (
	SNMPVersion2c SNMPVersion = "v2c"
	SNMPVersion3  SNMPVersion = "v3"
)

// SNMPCredential holds per-device SNMP access material. Secret fields carry
// AES-GCM ciphertext and are only decrypted at poll time.
type SNMPCredential struct {
	DeviceID     string      `json:"device_id"`
	Version      SNMPVersion `json:"version"`
	Port         int         `json:"port"`
	CommunityEnc string      `json:"-"`

	// SNMPv3 material.
	SecurityName string `json:"security_name,omitempty"`
	AuthProtocol string `json:"auth_protocol,omitempty"`
	AuthPassEnc  string `json:"-"`
	PrivProtocol string `json:"priv_protocol,omitempty"`
	PrivPassEnc  string `json:"-"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultSNMPPort is used when a credential row does not set one.
const DefaultSNMPPort = 161
