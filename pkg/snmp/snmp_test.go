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
	"bytes"
	"errors"
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/netwatch/pkg/crypto/secrets"
	"github.com/carverauto/netwatch/pkg/models"
)

func testCipher(t *testing.T) *secrets.Cipher {
	t.Helper()

	c, err := secrets.NewCipher(bytes.Repeat([]byte{0x11}, 32))
	require.NoError(t, err)

	return c
}

func encrypted(t *testing.T, c *secrets.Cipher, plain string) string {
	t.Helper()

	enc, err := c.EncryptString(plain)
	require.NoError(t, err)

	return enc
}

func TestConfigureVersionV2c(t *testing.T) {
	cipher := testCipher(t)
	f := NewClientFactory(cipher, 0, 0)

	client := &gosnmp.GoSNMP{}
	cred := &models.SNMPCredential{
		Version:      models.SNMPVersion2c,
		CommunityEnc: encrypted(t, cipher, "public"),
	}

	require.NoError(t, f.configureVersion(client, cred))
	assert.Equal(t, gosnmp.Version2c, client.Version)
	assert.Equal(t, "public", client.Community)
}

func TestConfigureVersionV3AuthPriv(t *testing.T) {
	cipher := testCipher(t)
	f := NewClientFactory(cipher, 0, 0)

	client := &gosnmp.GoSNMP{}
	cred := &models.SNMPCredential{
		Version:      models.SNMPVersion3,
		SecurityName: "monitor",
		AuthProtocol: "SHA256",
		AuthPassEnc:  encrypted(t, cipher, "authpass"),
		PrivProtocol: "AES",
		PrivPassEnc:  encrypted(t, cipher, "privpass"),
	}

	require.NoError(t, f.configureVersion(client, cred))
	assert.Equal(t, gosnmp.Version3, client.Version)
	assert.Equal(t, gosnmp.AuthPriv, client.MsgFlags)

	usm, ok := client.SecurityParameters.(*gosnmp.UsmSecurityParameters)
	require.True(t, ok)
	assert.Equal(t, "monitor", usm.UserName)
	assert.Equal(t, gosnmp.SHA256, usm.AuthenticationProtocol)
	assert.Equal(t, "authpass", usm.AuthenticationPassphrase)
	assert.Equal(t, gosnmp.AES, usm.PrivacyProtocol)
	assert.Equal(t, "privpass", usm.PrivacyPassphrase)
}

func TestConfigureVersionUnknown(t *testing.T) {
	f := NewClientFactory(testCipher(t), 0, 0)

	err := f.configureVersion(&gosnmp.GoSNMP{}, &models.SNMPCredential{Version: "v1"})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(ErrAuthFailed))
	assert.True(t, IsAuthError(errors.New("usm: unknown user name")))
	assert.True(t, IsAuthError(errors.New("incoming packet authentication failure")))
	assert.False(t, IsAuthError(errors.New("request timeout (after 2 retries)")))
	assert.False(t, IsAuthError(nil))
}

func TestConvertPDUInteger(t *testing.T) {
	item := &models.MonitoringItem{
		ID: "i1", DeviceID: "d1", Name: "ifInOctets", ValueType: models.ValueTypeCounter,
	}

	v, err := convertPDU(gosnmp.SnmpPDU{
		Name: ".1.3.6.1.2.1.2.2.1.10.3", Type: gosnmp.Counter64, Value: uint64(12345),
	}, item, item.Name)
	require.NoError(t, err)
	require.NotNil(t, v.IntVal)
	assert.Equal(t, int64(12345), *v.IntVal)

	f, ok := v.Float()
	require.True(t, ok)
	assert.InDelta(t, 12345, f, 0.001)
}

func TestConvertPDUStringSanitized(t *testing.T) {
	item := &models.MonitoringItem{
		ID: "i2", DeviceID: "d1", Name: "sysDescr", ValueType: models.ValueTypeString,
	}

	v, err := convertPDU(gosnmp.SnmpPDU{
		Name: ".1.3.6.1.2.1.1.1.0", Type: gosnmp.OctetString,
		Value: []byte("Cisco IOS\x00\x07  "),
	}, item, item.Name)
	require.NoError(t, err)
	require.NotNil(t, v.StrVal)
	assert.Equal(t, "Cisco IOS", *v.StrVal)
}

func TestConvertPDUTypeMismatch(t *testing.T) {
	item := &models.MonitoringItem{
		ID: "i3", DeviceID: "d1", Name: "cpu", ValueType: models.ValueTypeInteger,
	}

	_, err := convertPDU(gosnmp.SnmpPDU{
		Name: ".1.3.6.1.4.1.9.2.1.57.0", Type: gosnmp.OctetString, Value: []byte("busy"),
	}, item, item.Name)
	assert.Error(t, err)
}

func TestRowSuffix(t *testing.T) {
	assert.Equal(t, ".3", rowSuffix(".1.3.6.1.2.1.2.2.1.10", ".1.3.6.1.2.1.2.2.1.10.3"))
	assert.Equal(t, "", rowSuffix(".1.3.6.1.2.1.1.1.0", ".1.3.6.1.2.1.1.1.0"))
}

func TestLastIndex(t *testing.T) {
	index, ok := lastIndex(".1.3.6.1.2.1.2.2.1.2.42")
	require.True(t, ok)
	assert.Equal(t, int64(42), index)

	_, ok = lastIndex("nonsense")
	assert.False(t, ok)
}

func TestClassifyISP(t *testing.T) {
	iface := &models.Interface{IfName: "Gi0/0/0", IfAlias: "TELMEX-100M-ENLACE"}

	Classify(iface)

	assert.Equal(t, models.IfClassISP, iface.Class)
	assert.Equal(t, "telmex", iface.Provider)
	assert.True(t, iface.Critical)
}

func TestClassifyGenericUplinkKeepsAlias(t *testing.T) {
	iface := &models.Interface{IfName: "Gi0/1", IfAlias: "WAN backup link"}

	Classify(iface)

	assert.Equal(t, models.IfClassISP, iface.Class)
	assert.Equal(t, "wan backup link", iface.Provider)
}

func TestClassifyTrunkAndAccess(t *testing.T) {
	trunk := &models.Interface{IfName: "Port-channel1", IfAlias: "TRUNK to core"}
	Classify(trunk)
	assert.Equal(t, models.IfClassTrunk, trunk.Class)
	assert.False(t, trunk.Critical)

	access := &models.Interface{IfName: "Gi1/0/24", IfAlias: ""}
	Classify(access)
	assert.Equal(t, models.IfClassAccess, access.Class)
}

func TestClassifyMgmt(t *testing.T) {
	iface := &models.Interface{IfName: "Vlan99", IfAlias: "MGMT"}

	Classify(iface)

	assert.Equal(t, models.IfClassMgmt, iface.Class)
}
