// Package segment encrypts video segments for HLS delivery. The server only
// ever encrypts, at processing time; decryption is the player's job once it
// has fetched the key. AES-128-CBC with PKCS#7 padding is what the HLS
// EXT-X-KEY METHOD=AES-128 directive mandates.
package segment

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/yellowtv/streamgate/internal/keys"
)

// Encrypt encrypts one segment's bytes with its derived key and IV.
// Key or IV length mismatches are programming errors caught at the boundary.
func Encrypt(plaintext, key, iv []byte) ([]byte, error) {
	if len(key) != keys.KeySize {
		return nil, fmt.Errorf("segment key must be %d bytes, got %d", keys.KeySize, len(key))
	}
	if len(iv) != keys.IVSize {
		return nil, fmt.Errorf("segment iv must be %d bytes, got %d", keys.IVSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt. The server never decrypts on the request path;
// this exists for tooling and tests that check the player-side round trip.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	if len(key) != keys.KeySize {
		return nil, fmt.Errorf("segment key must be %d bytes, got %d", keys.KeySize, len(key))
	}
	if len(iv) != keys.IVSize {
		return nil, fmt.Errorf("segment iv must be %d bytes, got %d", keys.IVSize, len(iv))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return unpad(out, block.BlockSize())
}

// pad applies PKCS#7 padding. A plaintext already on a block boundary gets a
// full padding block, so padding is always present and unambiguous.
func pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
