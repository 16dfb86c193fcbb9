package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// KEKSize is the size of the server key-encryption key in bytes (AES-256).
const KEKSize = 32

// EncryptMasterSecret envelope-encrypts a video master secret under the
// server KEK using AES-256-GCM. The random nonce is prepended to the
// returned ciphertext; that blob is what gets persisted on the video record.
func EncryptMasterSecret(kek, masterSecret []byte) ([]byte, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("kek must be %d bytes, got %d", KEKSize, len(kek))
	}
	if len(masterSecret) != MasterSecretSize {
		return nil, fmt.Errorf("master secret must be %d bytes, got %d", MasterSecretSize, len(masterSecret))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, masterSecret, nil), nil
}

// DecryptMasterSecret reverses EncryptMasterSecret. A decryption failure
// means the KEK is wrong or the stored blob is corrupt; either way the
// video's keys are unrecoverable and the caller must treat it as a server
// error, never as a viewer-facing denial.
func DecryptMasterSecret(kek, blob []byte) ([]byte, error) {
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("kek must be %d bytes, got %d", KEKSize, len(kek))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted master secret too short: %d bytes", len(blob))
	}

	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	secret, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt master secret: %w", err)
	}
	if len(secret) != MasterSecretSize {
		return nil, fmt.Errorf("decrypted master secret has wrong size: %d", len(secret))
	}
	return secret, nil
}
