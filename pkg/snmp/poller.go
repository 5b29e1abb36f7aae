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
	"strings"
	"time"
	"unicode"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/netwatch/pkg/models"
)

// PollItem fetches one monitoring item. Scalar items are read with a GET,
// tabular items with a bulk walk that yields one sample per row. A failing
// item reports only its own error; sibling items on the same device are
// unaffected.
func PollItem(client *gosnmp.GoSNMP, item *models.MonitoringItem) ([]*models.SNMPValue, error) {
	if item.Tabular {
		return walkItem(client, item)
	}

	result, err := client.Get([]string{item.OID})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", item.OID, err)
	}

	if result.Error != gosnmp.NoError {
		return nil, fmt.Errorf("get %s: snmp error %v", item.OID, result.Error)
	}

	if len(result.Variables) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, item.OID)
	}

	pdu := result.Variables[0]
	if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, item.OID)
	}

	v, err := convertPDU(pdu, item, item.Name)
	if err != nil {
		return nil, err
	}

	return []*models.SNMPValue{v}, nil
}

func walkItem(client *gosnmp.GoSNMP, item *models.MonitoringItem) ([]*models.SNMPValue, error) {
	var values []*models.SNMPValue

	err := client.BulkWalk(item.OID, func(pdu gosnmp.SnmpPDU) error {
		if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance {
			return nil
		}

		name := item.Name + rowSuffix(item.OID, pdu.Name)

		v, err := convertPDU(pdu, item, name)
		if err != nil {
			// Skip rows that do not match the declared type; the rest of
			// the table is still useful.
			return nil
		}

		values = append(values, v)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", item.OID, err)
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchObject, item.OID)
	}

	return values, nil
}

// rowSuffix extracts the table index portion of a walked OID, e.g. ".3" for
// row 3, so tabular sample names stay distinct.
func rowSuffix(base, full string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(full, "."), strings.TrimPrefix(base, "."))
	if trimmed == "" {
		return ""
	}

	if !strings.HasPrefix(trimmed, ".") {
		trimmed = "." + trimmed
	}

	return trimmed
}

// convertPDU normalizes a PDU into a typed sample according to the item's
// declared value type.
func convertPDU(pdu gosnmp.SnmpPDU, item *models.MonitoringItem, name string) (*models.SNMPValue, error) {
	v := &models.SNMPValue{
		DeviceID:  item.DeviceID,
		ItemID:    item.ID,
		OID:       strings.TrimPrefix(pdu.Name, "."),
		Name:      name,
		ValueType: item.ValueType,
		Timestamp: time.Now().UTC(),
	}

	switch item.ValueType {
	case models.ValueTypeString:
		s, ok := pduString(pdu)
		if !ok {
			return nil, fmt.Errorf("oid %s: expected string, got %v", pdu.Name, pdu.Type)
		}

		s = sanitize(s)
		v.StrVal = &s
	case models.ValueTypeFloat:
		f, ok := pduFloat(pdu)
		if !ok {
			return nil, fmt.Errorf("oid %s: expected numeric, got %v", pdu.Name, pdu.Type)
		}

		v.FloatVal = &f
	case models.ValueTypeInteger, models.ValueTypeCounter:
		i, ok := pduInt(pdu)
		if !ok {
			return nil, fmt.Errorf("oid %s: expected integer, got %v", pdu.Name, pdu.Type)
		}

		v.IntVal = &i
	default:
		return nil, fmt.Errorf("oid %s: unknown value type %q", pdu.Name, item.ValueType)
	}

	return v, nil
}

func pduString(pdu gosnmp.SnmpPDU) (string, bool) {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return string(b), true
		}

		if s, ok := pdu.Value.(string); ok {
			return s, true
		}

		return "", false
	case gosnmp.ObjectIdentifier:
		s, ok := pdu.Value.(string)
		return s, ok
	default:
		return "", false
	}
}

func pduInt(pdu gosnmp.SnmpPDU) (int64, bool) {
	switch pdu.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64,
		gosnmp.Gauge32, gosnmp.Uinteger32, gosnmp.TimeTicks:
		return gosnmp.ToBigInt(pdu.Value).Int64(), true
	default:
		return 0, false
	}
}

func pduFloat(pdu gosnmp.SnmpPDU) (float64, bool) {
	switch pdu.Type {
	case gosnmp.OpaqueFloat:
		if f, ok := pdu.Value.(float32); ok {
			return float64(f), true
		}

		return 0, false
	case gosnmp.OpaqueDouble:
		f, ok := pdu.Value.(float64)
		return f, ok
	case gosnmp.OctetString:
		// Some agents expose floats as strings.
		s, ok := pduString(pdu)
		if !ok {
			return 0, false
		}

		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &f); err != nil {
			return 0, false
		}

		return f, true
	default:
		if i, ok := pduInt(pdu); ok {
			return float64(i), true
		}

		return 0, false
	}
}

// sanitize strips control characters agents sometimes embed in octet strings
// and trims surrounding whitespace.
func sanitize(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	for _, r := range s {
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}

	return strings.TrimSpace(b.String())
}
