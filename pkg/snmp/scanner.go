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
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/netwatch/pkg/models"
)

// IF-MIB object identifiers.
const (
	oidIfDescr       = ".1.3.6.1.2.1.2.2.1.2"
	oidIfType        = ".1.3.6.1.2.1.2.2.1.3"
	oidIfMtu         = ".1.3.6.1.2.1.2.2.1.4"
	oidIfSpeed       = ".1.3.6.1.2.1.2.2.1.5"
	oidIfAdminStatus = ".1.3.6.1.2.1.2.2.1.7"
	oidIfOperStatus  = ".1.3.6.1.2.1.2.2.1.8"
	oidIfName        = ".1.3.6.1.2.1.31.1.1.1.1"
	oidIfHighSpeed   = ".1.3.6.1.2.1.31.1.1.1.15"
	oidIfAlias       = ".1.3.6.1.2.1.31.1.1.1.18"
)

const bpsPerMbps = 1_000_000

// ScanInterfaces walks the IF-MIB tables and returns a classified snapshot of
// the device's interfaces, ordered by index.
func ScanInterfaces(client *gosnmp.GoSNMP, deviceID string) ([]*models.Interface, error) {
	ifMap := make(map[int64]*models.Interface)

	get := func(index int64) *models.Interface {
		iface, ok := ifMap[index]
		if !ok {
			iface = &models.Interface{DeviceID: deviceID, IfIndex: index}
			ifMap[index] = iface
		}

		return iface
	}

	walks := []struct {
		oid   string
		apply func(iface *models.Interface, pdu gosnmp.SnmpPDU)
	}{
		{oidIfDescr, func(iface *models.Interface, pdu gosnmp.SnmpPDU) {
			if s, ok := pduString(pdu); ok && iface.IfName == "" {
				iface.IfName = sanitize(s)
			}
		}},
		{oidIfName, func(iface *models.Interface, pdu gosnmp.SnmpPDU) {
			if s, ok := pduString(pdu); ok && s != "" {
				iface.IfName = sanitize(s)
			}
		}},
		{oidIfAlias, func(iface *models.Interface, pdu gosnmp.SnmpPDU) {
			if s, ok := pduString(pdu); ok {
				iface.IfAlias = sanitize(s)
			}
		}},
		{oidIfType, func(iface *models.Interface, pdu gosnmp.SnmpPDU) {
			if i, ok := pduInt(pdu); ok {
				iface.IfType = int32(i)
			}
		}},
		{oidIfMtu, func(iface *models.Interface, pdu gosnmp.SnmpPDU) {
			if i, ok := pduInt(pdu); ok {
				iface.MTU = int32(i)
			}
		}},
		{oidIfSpeed, func(iface *models.Interface, pdu gosnmp.SnmpPDU) {
			if i, ok := pduInt(pdu); ok && iface.SpeedBps == 0 {
				iface.SpeedBps = uint64(i)
			}
		}},
		{oidIfHighSpeed, func(iface *models.Interface, pdu gosnmp.SnmpPDU) {
			// ifHighSpeed is in Mbps and wins over the 32-bit ifSpeed.
			if i, ok := pduInt(pdu); ok && i > 0 {
				iface.SpeedBps = uint64(i) * bpsPerMbps
			}
		}},
		{oidIfAdminStatus, func(iface *models.Interface, pdu gosnmp.SnmpPDU) {
			if i, ok := pduInt(pdu); ok {
				iface.AdminStatus = int32(i)
			}
		}},
		{oidIfOperStatus, func(iface *models.Interface, pdu gosnmp.SnmpPDU) {
			if i, ok := pduInt(pdu); ok {
				iface.OperStatus = int32(i)
			}
		}},
	}

	for _, w := range walks {
		apply := w.apply
		base := w.oid

		err := client.BulkWalk(base, func(pdu gosnmp.SnmpPDU) error {
			index, ok := lastIndex(pdu.Name)
			if !ok {
				return nil
			}

			apply(get(index), pdu)

			return nil
		})
		if err != nil {
			// ifXTable columns are optional on older agents; only the base
			// ifTable walk failing is fatal.
			if base == oidIfDescr {
				return nil, fmt.Errorf("walk ifTable: %w", err)
			}
		}
	}

	if len(ifMap) == 0 {
		return nil, fmt.Errorf("%w: ifTable empty", ErrNoSuchObject)
	}

	now := time.Now().UTC()
	ifaces := make([]*models.Interface, 0, len(ifMap))

	for _, iface := range ifMap {
		iface.UpdatedAt = now
		Classify(iface)
		ifaces = append(ifaces, iface)
	}

	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].IfIndex < ifaces[j].IfIndex })

	return ifaces, nil
}

// lastIndex extracts the row index from the final OID component.
func lastIndex(oid string) (int64, bool) {
	dot := strings.LastIndex(oid, ".")
	if dot < 0 || dot == len(oid)-1 {
		return 0, false
	}

	index, err := strconv.ParseInt(oid[dot+1:], 10, 64)
	if err != nil {
		return 0, false
	}

	return index, true
}
