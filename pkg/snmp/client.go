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

// Package snmp polls monitoring items and walks interface tables over SNMP.
// Credentials arrive encrypted and are decrypted only while a client exists.
package snmp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/carverauto/netwatch/pkg/crypto/secrets"
	"github.com/carverauto/netwatch/pkg/models"
)

var (
	// ErrUnsupportedVersion indicates the credential names an unknown dialect.
	ErrUnsupportedVersion = errors.New("unsupported snmp version")
	// ErrAuthFailed indicates the device rejected our credentials. This is a
	// configuration problem, never a liveness signal.
	ErrAuthFailed = errors.New("snmp authentication failed")
	// ErrNoSuchObject indicates the device does not expose the polled OID.
	ErrNoSuchObject = errors.New("no such object")
)

const (
	defaultMaxRepetitions = 10
	defaultTimeout        = 5 * time.Second
	defaultRetries        = 2
)

// ClientFactory builds connected gosnmp clients from stored credentials.
type ClientFactory struct {
	cipher  *secrets.Cipher
	timeout time.Duration
	retries int
}

// NewClientFactory wires the credential cipher and polling timeouts.
func NewClientFactory(cipher *secrets.Cipher, timeout time.Duration, retries int) *ClientFactory {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if retries <= 0 {
		retries = defaultRetries
	}

	return &ClientFactory{cipher: cipher, timeout: timeout, retries: retries}
}

// Connect builds and connects a client for the target using the device's
// stored credential. The caller owns the connection and must Close it.
func (f *ClientFactory) Connect(target string, cred *models.SNMPCredential) (*gosnmp.GoSNMP, error) {
	port := cred.Port
	if port <= 0 {
		port = models.DefaultSNMPPort
	}

	client := &gosnmp.GoSNMP{
		Target:             target,
		Port:               uint16(port),
		Timeout:            f.timeout,
		Retries:            f.retries,
		MaxOids:            gosnmp.MaxOids,
		MaxRepetitions:     defaultMaxRepetitions,
		ExponentialTimeout: true,
	}

	if err := f.configureVersion(client, cred); err != nil {
		return nil, err
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", target, err)
	}

	return client, nil
}

func (f *ClientFactory) configureVersion(client *gosnmp.GoSNMP, cred *models.SNMPCredential) error {
	switch cred.Version {
	case models.SNMPVersion2c:
		community, err := f.cipher.DecryptString(cred.CommunityEnc)
		if err != nil {
			return fmt.Errorf("decrypt community: %w", err)
		}

		client.Version = gosnmp.Version2c
		client.Community = community
	case models.SNMPVersion3:
		client.Version = gosnmp.Version3
		client.SecurityModel = gosnmp.UserSecurityModel

		usm := &gosnmp.UsmSecurityParameters{UserName: cred.SecurityName}

		if err := f.configureV3Auth(usm, cred); err != nil {
			return err
		}

		hasPriv, err := f.configureV3Priv(usm, cred)
		if err != nil {
			return err
		}

		client.SecurityParameters = usm

		client.MsgFlags = gosnmp.AuthNoPriv
		if hasPriv {
			client.MsgFlags = gosnmp.AuthPriv
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, cred.Version)
	}

	return nil
}

func (f *ClientFactory) configureV3Auth(usm *gosnmp.UsmSecurityParameters, cred *models.SNMPCredential) error {
	pass, err := f.cipher.DecryptString(cred.AuthPassEnc)
	if err != nil {
		return fmt.Errorf("decrypt auth passphrase: %w", err)
	}

	usm.AuthenticationPassphrase = pass

	switch strings.ToUpper(cred.AuthProtocol) {
	case "MD5":
		usm.AuthenticationProtocol = gosnmp.MD5
	case "SHA", "":
		usm.AuthenticationProtocol = gosnmp.SHA
	case "SHA256":
		usm.AuthenticationProtocol = gosnmp.SHA256
	case "SHA512":
		usm.AuthenticationProtocol = gosnmp.SHA512
	default:
		return fmt.Errorf("%w: auth protocol %s", ErrUnsupportedVersion, cred.AuthProtocol)
	}

	return nil
}

func (f *ClientFactory) configureV3Priv(usm *gosnmp.UsmSecurityParameters, cred *models.SNMPCredential) (bool, error) {
	if cred.PrivProtocol == "" {
		return false, nil
	}

	pass, err := f.cipher.DecryptString(cred.PrivPassEnc)
	if err != nil {
		return false, fmt.Errorf("decrypt priv passphrase: %w", err)
	}

	usm.PrivacyPassphrase = pass

	switch strings.ToUpper(cred.PrivProtocol) {
	case "DES":
		usm.PrivacyProtocol = gosnmp.DES
	case "AES":
		usm.PrivacyProtocol = gosnmp.AES
	case "AES256":
		usm.PrivacyProtocol = gosnmp.AES256
	default:
		return false, fmt.Errorf("%w: priv protocol %s", ErrUnsupportedVersion, cred.PrivProtocol)
	}

	return true, nil
}

// IsAuthError reports whether the poll failure means bad credentials rather
// than an unreachable or slow device.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrAuthFailed) {
		return true
	}

	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "unknown user name") ||
		strings.Contains(msg, "wrong digest") ||
		strings.Contains(msg, "decryption error")
}
