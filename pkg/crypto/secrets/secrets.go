// Package secrets encrypts SNMP credential material before it reaches the
// database. Plaintext exists only in memory at poll time.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	keyLength   = 32
	nonceLength = 12
)

// KeyEnvVar names the environment variable holding the hex-encoded key.
const KeyEnvVar = "NETWATCH_SECRET_KEY"

var (
	// ErrInvalidKeyLength indicates the provided key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("secrets: encryption key must be 32 bytes")
	// ErrCiphertextTooShort indicates the payload is shorter than the nonce.
	ErrCiphertextTooShort = errors.New("secrets: ciphertext too short")
	// ErrKeyNotSet indicates the key environment variable is absent.
	ErrKeyNotSet = errors.New("secrets: " + KeyEnvVar + " is not set")
)

// Cipher wraps AES-256-GCM helpers for encrypting credential blobs.
type Cipher struct {
	key []byte
}

// NewCipher constructs a Cipher from raw key bytes.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != keyLength {
		return nil, ErrInvalidKeyLength
	}

	buf := make([]byte, keyLength)
	copy(buf, key)

	return &Cipher{key: buf}, nil
}

// NewCipherFromEnv reads a hex-encoded key from NETWATCH_SECRET_KEY.
func NewCipherFromEnv() (*Cipher, error) {
	raw := os.Getenv(KeyEnvVar)
	if raw == "" {
		return nil, ErrKeyNotSet
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key: %w", err)
	}

	return NewCipher(key)
}

// Encrypt seals plaintext with AES-256-GCM and returns a base64 payload.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("secrets: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: init gcm: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// EncryptString is Encrypt over a string payload.
func (c *Cipher) EncryptString(plaintext string) (string, error) {
	return c.Encrypt([]byte(plaintext))
}

// Decrypt reverses Encrypt and returns the original plaintext bytes.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode ciphertext: %w", err)
	}

	if len(payload) < nonceLength {
		return nil, ErrCiphertextTooShort
	}

	nonce := payload[:nonceLength]
	ciphertext := payload[nonceLength:]

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: init gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt payload: %w", err)
	}

	return plaintext, nil
}

// DecryptString is Decrypt with a string result.
func (c *Cipher) DecryptString(encoded string) (string, error) {
	plaintext, err := c.Decrypt(encoded)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
