// Package commitment builds the Merkle commitment over a video's segment key
// set. The root is published with the video record at processing time and is
// immutable; inclusion proofs let a client verify a delivered key belongs to
// the committed set without learning any other key.
package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/yellowtv/streamgate/internal/keys"
)

// Digest is a SHA-256 node digest.
type Digest [sha256.Size]byte

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// ErrIndexOutOfRange is returned when a proof is requested for a leaf index
// outside [0, LeafCount).
var ErrIndexOutOfRange = fmt.Errorf("segment index out of range")

// Domain-separation prefixes keep leaf digests from ever being confused with
// interior digests. Frozen: changing them changes every published root.
const (
	leafPrefix     = 0x00
	interiorPrefix = 0x01
)

// Tree is a binary SHA-256 Merkle tree over segment key material.
//
// Leaves are digests of the key material, never raw key bytes, in segment
// index order. A level with an odd node count duplicates its last node; the
// same rule must hold at verification time or proofs silently fail.
type Tree struct {
	levels [][]Digest // levels[0] = leaves, last level = [root]
}

// LeafDigest computes the leaf digest for one segment's key material:
// SHA256(0x00 || key || iv).
func LeafDigest(km keys.SegmentKeyMaterial) Digest {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(km.Key[:])
	h.Write(km.IV[:])
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

func interiorDigest(left, right Digest) Digest {
	h := sha256.New()
	h.Write([]byte{interiorPrefix})
	h.Write(left[:])
	h.Write(right[:])
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Build constructs the tree over the given key material, in order.
func Build(material []keys.SegmentKeyMaterial) (*Tree, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("cannot build commitment over zero segments")
	}

	leaves := make([]Digest, len(material))
	for i, km := range material {
		leaves[i] = LeafDigest(km)
	}

	levels := [][]Digest{leaves}
	for current := leaves; len(current) > 1; {
		if len(current)%2 == 1 {
			current = append(current, current[len(current)-1])
		}
		next := make([]Digest, len(current)/2)
		for i := 0; i < len(current); i += 2 {
			next[i/2] = interiorDigest(current[i], current[i+1])
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{levels: levels}, nil
}

// Root returns the tree's root digest.
func (t *Tree) Root() Digest {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of committed segments.
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Proof returns the ordered sibling digests from leaf to root for the given
// segment index.
func (t *Tree) Proof(index int) ([]Digest, error) {
	if index < 0 || index >= t.LeafCount() {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, t.LeafCount())
	}

	proof := make([]Digest, 0, len(t.levels)-1)
	idx := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			// Odd level: the duplicated last node is its own sibling.
			sibling = idx
		}
		proof = append(proof, level[sibling])
		idx /= 2
	}
	return proof, nil
}

// proofLength returns the proof size for a tree over leafCount leaves under
// the duplicate-last-node rule.
func proofLength(leafCount int) int {
	length := 0
	for n := leafCount; n > 1; n = (n + 1) / 2 {
		length++
	}
	return length
}

// Verify checks that the given key material sits at the given index under a
// root committing exactly leafCount segments. It is a pure function of its
// inputs so clients can run the identical check.
//
// leafCount matters: the duplicate-last-node rule means the last segment's
// material would otherwise also verify at the first index past the end, so
// out-of-range indexes are rejected outright.
func Verify(root Digest, leafCount, index int, km keys.SegmentKeyMaterial, proof []Digest) bool {
	if leafCount <= 0 || index < 0 || index >= leafCount {
		return false
	}
	if len(proof) != proofLength(leafCount) {
		return false
	}

	node := LeafDigest(km)
	idx := index
	for _, sibling := range proof {
		if idx%2 == 0 {
			node = interiorDigest(node, sibling)
		} else {
			node = interiorDigest(sibling, node)
		}
		idx /= 2
	}
	return idx == 0 && node == root
}

// serializedTree is the stored JSON shape: hex digests level by level.
type serializedTree struct {
	Levels [][]string `json:"levels"`
}

// Serialize encodes the tree for storage on the video record.
func (t *Tree) Serialize() ([]byte, error) {
	out := serializedTree{Levels: make([][]string, len(t.levels))}
	for i, level := range t.levels {
		out.Levels[i] = make([]string, len(level))
		for j, d := range level {
			out.Levels[i][j] = d.Hex()
		}
	}
	return json.Marshal(out)
}

// Deserialize decodes a tree previously produced by Serialize.
func Deserialize(data []byte) (*Tree, error) {
	var in serializedTree
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode commitment tree: %w", err)
	}
	if len(in.Levels) == 0 || len(in.Levels[0]) == 0 {
		return nil, fmt.Errorf("commitment tree is empty")
	}

	levels := make([][]Digest, len(in.Levels))
	for i, level := range in.Levels {
		levels[i] = make([]Digest, len(level))
		for j, hexDigest := range level {
			raw, err := hex.DecodeString(hexDigest)
			if err != nil || len(raw) != sha256.Size {
				return nil, fmt.Errorf("invalid digest at level %d index %d", i, j)
			}
			copy(levels[i][j][:], raw)
		}
	}
	if len(levels[len(levels)-1]) != 1 {
		return nil, fmt.Errorf("commitment tree has no single root")
	}
	return &Tree{levels: levels}, nil
}
