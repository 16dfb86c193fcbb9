package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// MasterSecretSize is the size of a per-video master secret in bytes.
	MasterSecretSize = 32

	// KeySize is the AES-128 segment key size in bytes.
	KeySize = 16

	// IVSize is the CBC initialization vector size in bytes.
	IVSize = 16

	// Domain-separation labels for HKDF. The key and IV of a segment come
	// from independent expansions so neither reveals anything about the
	// other. Changing either label changes every published Merkle root, so
	// they are frozen.
	labelSegmentKey = "streamgate/segment-key/v1"
	labelSegmentIV  = "streamgate/segment-iv/v1"
)

// SegmentKeyMaterial is the derived key and IV for a single segment. It is
// never persisted; it is re-derived from the master secret on every request.
type SegmentKeyMaterial struct {
	Key [KeySize]byte
	IV  [IVSize]byte
}

// NewMasterSecret generates a fresh 32-byte master secret for a video.
func NewMasterSecret() ([]byte, error) {
	secret := make([]byte, MasterSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate master secret: %w", err)
	}
	return secret, nil
}

// DeriveSegmentKeyMaterial deterministically derives the AES key and IV for
// one segment of one video using HKDF-SHA256.
//
// The HKDF info binds the label, the video ID and the big-endian segment
// index, so no two segments of any video share a key or IV and one segment's
// key reveals nothing about another's.
func DeriveSegmentKeyMaterial(masterSecret []byte, videoID string, index uint32) (SegmentKeyMaterial, error) {
	var km SegmentKeyMaterial

	if len(masterSecret) != MasterSecretSize {
		return km, fmt.Errorf("master secret must be %d bytes, got %d", MasterSecretSize, len(masterSecret))
	}
	if videoID == "" {
		return km, fmt.Errorf("video id must not be empty")
	}

	key, err := expand(masterSecret, labelSegmentKey, videoID, index, KeySize)
	if err != nil {
		return km, fmt.Errorf("key derivation failed: %w", err)
	}
	iv, err := expand(masterSecret, labelSegmentIV, videoID, index, IVSize)
	if err != nil {
		return km, fmt.Errorf("iv derivation failed: %w", err)
	}

	copy(km.Key[:], key)
	copy(km.IV[:], iv)
	return km, nil
}

// DeriveAllSegmentKeys derives key material for every segment index in
// [0, totalSegments). It exists to feed the commitment builder at processing
// time; request-time callers derive single segments on demand.
func DeriveAllSegmentKeys(masterSecret []byte, videoID string, totalSegments int) ([]SegmentKeyMaterial, error) {
	if totalSegments <= 0 {
		return nil, fmt.Errorf("total segments must be positive, got %d", totalSegments)
	}

	keys := make([]SegmentKeyMaterial, totalSegments)
	for i := 0; i < totalSegments; i++ {
		km, err := DeriveSegmentKeyMaterial(masterSecret, videoID, uint32(i))
		if err != nil {
			return nil, fmt.Errorf("failed to derive key for segment %d: %w", i, err)
		}
		keys[i] = km
	}
	return keys, nil
}

// expand runs one HKDF-SHA256 expansion with
// info = label || 0x00 || videoID || be32(index).
func expand(secret []byte, label, videoID string, index uint32, n int) ([]byte, error) {
	info := make([]byte, 0, len(label)+1+len(videoID)+4)
	info = append(info, label...)
	info = append(info, 0x00)
	info = append(info, videoID...)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	info = append(info, idx[:]...)

	reader := hkdf.New(sha256.New, secret, nil, info)
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
