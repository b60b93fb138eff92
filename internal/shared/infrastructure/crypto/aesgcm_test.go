package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKey returns a deterministic 32-byte base64-encoded key.
func testKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESGCMFromBase64Key(t *testing.T) {
	t.Run("creates encrypter with valid 32-byte key", func(t *testing.T) {
		encrypter, err := NewAESGCMFromBase64Key(testKey())

		require.NoError(t, err)
		assert.NotNil(t, encrypter)
	})

	t.Run("returns error for empty key", func(t *testing.T) {
		encrypter, err := NewAESGCMFromBase64Key("")

		assert.Error(t, err)
		assert.Nil(t, encrypter)
		assert.Contains(t, err.Error(), "encryption key is empty")
	})

	t.Run("returns error for invalid base64", func(t *testing.T) {
		encrypter, err := NewAESGCMFromBase64Key("not-valid-base64!!!")

		assert.Error(t, err)
		assert.Nil(t, encrypter)
	})

	t.Run("returns error for wrong key length", func(t *testing.T) {
		shortKey := base64.StdEncoding.EncodeToString([]byte("short"))

		encrypter, err := NewAESGCMFromBase64Key(shortKey)

		assert.Error(t, err)
		assert.Nil(t, encrypter)
		assert.Contains(t, err.Error(), "encryption key must be 32 bytes")
	})
}

func TestNewRandomBase64Key(t *testing.T) {
	key, err := NewRandomBase64Key()
	require.NoError(t, err)

	// Generated keys must be usable directly
	encrypter, err := NewAESGCMFromBase64Key(key)
	require.NoError(t, err)
	assert.NotNil(t, encrypter)

	other, err := NewRandomBase64Key()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestAESEncrypter_RoundTrip(t *testing.T) {
	encrypter, err := NewAESGCMFromBase64Key(testKey())
	require.NoError(t, err)

	plaintext := []byte("Secret message")

	ciphertext, err := encrypter.Encrypt(plaintext)
	require.NoError(t, err)
	assert.Greater(t, len(ciphertext), len(plaintext))
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := encrypter.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESEncrypter_NonceIsRandom(t *testing.T) {
	encrypter, err := NewAESGCMFromBase64Key(testKey())
	require.NoError(t, err)

	plaintext := []byte("Same message")

	ciphertext1, err := encrypter.Encrypt(plaintext)
	require.NoError(t, err)
	ciphertext2, err := encrypter.Encrypt(plaintext)
	require.NoError(t, err)

	// Each encryption uses a fresh nonce
	assert.NotEqual(t, ciphertext1, ciphertext2)
}

func TestAESEncrypter_Decrypt(t *testing.T) {
	t.Run("returns error for ciphertext too short", func(t *testing.T) {
		encrypter, err := NewAESGCMFromBase64Key(testKey())
		require.NoError(t, err)

		decrypted, err := encrypter.Decrypt([]byte("short"))

		assert.Error(t, err)
		assert.Nil(t, decrypted)
		assert.Contains(t, err.Error(), "ciphertext too short")
	})

	t.Run("returns error for tampered ciphertext", func(t *testing.T) {
		encrypter, err := NewAESGCMFromBase64Key(testKey())
		require.NoError(t, err)

		ciphertext, err := encrypter.Encrypt([]byte("Original message"))
		require.NoError(t, err)

		ciphertext[len(ciphertext)-1] ^= 0xFF

		decrypted, err := encrypter.Decrypt(ciphertext)

		assert.Error(t, err)
		assert.Nil(t, decrypted)
	})

	t.Run("returns error for wrong key", func(t *testing.T) {
		encrypter1, err := NewAESGCMFromBase64Key(testKey())
		require.NoError(t, err)

		otherKey, err := NewRandomBase64Key()
		require.NoError(t, err)
		encrypter2, err := NewAESGCMFromBase64Key(otherKey)
		require.NoError(t, err)

		ciphertext, err := encrypter1.Encrypt([]byte("Secret"))
		require.NoError(t, err)

		decrypted, err := encrypter2.Decrypt(ciphertext)

		assert.Error(t, err)
		assert.Nil(t, decrypted)
	})
}
