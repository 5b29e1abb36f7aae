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

// PingResult is one ICMP measurement against a device. Append-only telemetry
// with bounded retention.
type PingResult struct {
	DeviceID    string    `json:"device_id"`
	DeviceIP    string    `json:"device_ip"`
	PacketsSent int       `json:"packets_sent"`
	PacketsRecv int       `json:"packets_recv"`
	LossPct     float64   `json:"loss_pct"`
	MinRTTMs    float64   `json:"min_rtt_ms"`
	AvgRTTMs    float64   `json:"avg_rtt_ms"`
	MaxRTTMs    float64   `json:"max_rtt_ms"`
	Reachable   bool      `json:"reachable"`
	Timestamp   time.Time `json:"timestamp"`
}

// SNMPValue is a typed sample normalized from a polled OID.
type SNMPValue struct {
	DeviceID  string    `json:"device_id"`
	ItemID    string    `json:"item_id"`
	OID       string    `json:"oid"`
	Name      string    `json:"name"`
	ValueType ValueType `json:"value_type"`
	IntVal    *int64    `json:"int_val,omitempty"`
	FloatVal  *float64  `json:"float_val,omitempty"`
	StrVal    *string   `json:"str_val,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Float coerces the sample to a float64 for threshold comparison. Returns
// false for string samples.
func (v *SNMPValue) Float() (float64, bool) {
	switch {
	case v.FloatVal != nil:
		return *v.FloatVal, true
	case v.IntVal != nil:
		return float64(*v.IntVal), true
	default:
		return 0, false
	}
}

// Sample is a labelled metric destined for the time-series backend.
type Sample struct {
	Metric    string            `json:"metric"`
	Labels    map[string]string `json:"labels,omitempty"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
}

// StatusChange is one committed transition of the per-device state machine.
type StatusChange struct {
	DeviceID  string       `json:"device_id"`
	IP        string       `json:"ip"`
	Hostname  string       `json:"hostname,omitempty"`
	OldStatus DeviceStatus `json:"old_status"`
	NewStatus DeviceStatus `json:"new_status"`
	Timestamp time.Time    `json:"timestamp"`
	RTTMs     *float64     `json:"rtt_ms,omitempty"`
}

// Interface is a per-device SNMP interface snapshot. Classification is
// derived offline from ifAlias/ifName provider hints.
type Interface struct {
	DeviceID    string    `json:"device_id"`
	IfIndex     int64     `json:"if_index"`
	IfName      string    `json:"if_name"`
	IfAlias     string    `json:"if_alias,omitempty"`
	IfType      int32     `json:"if_type"`
	AdminStatus int32     `json:"admin_status"`
	OperStatus  int32     `json:"oper_status"`
	SpeedBps    uint64    `json:"speed_bps"`
	MTU         int32     `json:"mtu,omitempty"`
	Class       string    `json:"class,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Critical    bool      `json:"critical"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Interface oper/admin status values per RFC 2863.
const (
	IfStatusUp   int32 = 1
	IfStatusDown int32 = 2
)

// Interface classes assigned by the classifier.
const (
	IfClassISP    = "isp"
	IfClassTrunk  = "trunk"
	IfClassAccess = "access"
	IfClassMgmt   = "mgmt"
	IfClassOther  = "other"
)

// DashboardStats is the aggregate view served to the operator dashboard.
type DashboardStats struct {
	Total          int     `json:"total"`
	Online         int     `json:"online"`
	Offline        int     `json:"offline"`
	Warning        int     `json:"warning"`
	UptimePct      float64 `json:"uptime_pct"`
	ActiveAlerts   int     `json:"active_alerts"`
	CriticalAlerts int     `json:"critical_alerts"`
}
