package segment

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yellowtv/streamgate/internal/keys"
)

func testKeyIV(t *testing.T) ([]byte, []byte) {
	t.Helper()
	secret := make([]byte, keys.MasterSecretSize)
	km, err := keys.DeriveSegmentKeyMaterial(secret, "video-1", 0)
	require.NoError(t, err)
	return km.Key[:], km.IV[:]
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key, iv := testKeyIV(t)

	cases := [][]byte{
		{},
		[]byte("x"),
		[]byte("fifteen bytes.."),
		bytes.Repeat([]byte{0x47}, 16),   // exactly one block
		bytes.Repeat([]byte{0x47}, 188),  // one TS packet
		bytes.Repeat([]byte{0xaa}, 4096), // block multiple
		bytes.Repeat([]byte{0xbb}, 4097),
	}

	for _, plaintext := range cases {
		ciphertext, err := Encrypt(plaintext, key, iv)
		require.NoError(t, err)

		assert.Equal(t, 0, len(ciphertext)%16, "ciphertext must be block aligned")
		assert.Greater(t, len(ciphertext), len(plaintext)-1, "padding always adds at least one byte")
		if len(plaintext) >= 16 {
			assert.NotEqual(t, plaintext[:16], ciphertext[:16])
		}

		decrypted, err := Decrypt(ciphertext, key, iv)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestEncrypt_Validation(t *testing.T) {
	key, iv := testKeyIV(t)

	_, err := Encrypt([]byte("data"), key[:8], iv)
	assert.Error(t, err)

	_, err = Encrypt([]byte("data"), key, iv[:8])
	assert.Error(t, err)
}

func TestDecrypt_Validation(t *testing.T) {
	key, iv := testKeyIV(t)

	_, err := Decrypt([]byte("not block aligned"), key, iv)
	assert.Error(t, err)

	_, err = Decrypt(nil, key, iv)
	assert.Error(t, err)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key, iv := testKeyIV(t)

	ciphertext, err := Encrypt(bytes.Repeat([]byte{0x47}, 188), key, iv)
	require.NoError(t, err)

	wrong := make([]byte, len(key))
	copy(wrong, key)
	wrong[0] ^= 0x01

	decrypted, err := Decrypt(ciphertext, wrong, iv)
	if err == nil {
		// CBC with a wrong key usually corrupts padding, but if the final
		// byte happens to form valid padding the plaintext still differs.
		assert.NotEqual(t, bytes.Repeat([]byte{0x47}, 188), decrypted)
	}
}
