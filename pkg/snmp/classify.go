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

package snmp

import (
	"strings"

	"github.com/carverauto/netwatch/pkg/models"
)

// Operators tag uplinks in ifAlias with the carrier name. These hints drive
// the isp classification and the provider label used by isp_link_down rules.
var providerHints = []string{
	"telmex", "izzi", "totalplay", "megacable", "bestel", "axtel",
	"att", "at&t", "comcast", "verizon", "lumen", "cogent", "zayo",
	"isp", "wan", "uplink", "internet",
}

var trunkHints = []string{"trunk", "po", "port-channel", "lag", "bond"}

var mgmtHints = []string{"mgmt", "management", "oob", "console"}

// Classify assigns a class, provider and criticality to an interface based on
// its alias and name. ISP uplinks are always critical.
func Classify(iface *models.Interface) {
	alias := strings.ToLower(iface.IfAlias)
	name := strings.ToLower(iface.IfName)

	for _, hint := range providerHints {
		if strings.Contains(alias, hint) {
			iface.Class = models.IfClassISP
			iface.Provider = providerLabel(alias, hint)
			iface.Critical = true

			return
		}
	}

	for _, hint := range mgmtHints {
		if strings.Contains(alias, hint) || strings.Contains(name, hint) {
			iface.Class = models.IfClassMgmt
			return
		}
	}

	for _, hint := range trunkHints {
		if strings.Contains(alias, hint) || strings.HasPrefix(name, hint) {
			iface.Class = models.IfClassTrunk
			return
		}
	}

	if strings.HasPrefix(name, "gi") || strings.HasPrefix(name, "fa") ||
		strings.HasPrefix(name, "eth") || strings.HasPrefix(name, "te") {
		iface.Class = models.IfClassAccess
		return
	}

	iface.Class = models.IfClassOther
}

// providerLabel returns a stable provider name for the matched hint. Generic
// hints like "wan" keep the whole alias so the operator still sees something
// identifying.
func providerLabel(alias, hint string) string {
	switch hint {
	case "isp", "wan", "uplink", "internet":
		if alias == "" {
			return hint
		}

		return alias
	case "at&t", "att":
		return "att"
	default:
		return hint
	}
}
