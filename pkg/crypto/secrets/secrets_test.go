package secrets

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)

	c, err := NewCipher(key)
	require.NoError(t, err)

	encoded, err := c.EncryptString("public-community")
	require.NoError(t, err)
	assert.NotContains(t, encoded, "public-community")

	decoded, err := c.DecryptString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "public-community", decoded)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)

	a, err := c.EncryptString("same")
	require.NoError(t, err)

	b, err := c.EncryptString("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestNewCipherRejectsShortKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestDecryptRejectsTruncatedPayload(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x02}, 32))
	require.NoError(t, err)

	_, err = c.Decrypt("AAAA")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestNewCipherFromEnv(t *testing.T) {
	t.Setenv(KeyEnvVar, "")

	_, err := NewCipherFromEnv()
	assert.ErrorIs(t, err, ErrKeyNotSet)

	t.Setenv(KeyEnvVar, hex.EncodeToString(bytes.Repeat([]byte{0x07}, 32)))

	c, err := NewCipherFromEnv()
	require.NoError(t, err)

	encoded, err := c.EncryptString("v3-auth-pass")
	require.NoError(t, err)

	decoded, err := c.DecryptString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "v3-auth-pass", decoded)
}
