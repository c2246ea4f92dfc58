// Package merkle verifies whitelist membership against a published Merkle root.
//
// Leaves are keccak-256 digests of the member's raw address bytes and every
// interior node hashes the sorted pair of its children, so a proof is only the
// ordered list of sibling digests; no left/right markers are carried.
package merkle

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HashLength is the size of a digest in bytes
const HashLength = 32

// Hash is a keccak-256 digest
type Hash [HashLength]byte

// Keccak256 hashes the concatenation of data
func Keccak256(data ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

// Leaf returns the leaf digest for a member identifier
func Leaf(member []byte) Hash {
	return Keccak256(member)
}

// HashPair hashes two nodes in ascending byte order
func HashPair(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return Keccak256(a[:], b[:])
}

// ProcessProof folds proof into leaf and returns the candidate root
func ProcessProof(proof []Hash, leaf Hash) Hash {
	computed := leaf
	for _, sibling := range proof {
		computed = HashPair(computed, sibling)
	}
	return computed
}

// Verify reports whether leaf belongs to the set committed by root.
// A failed check is a plain false, never an error.
func Verify(proof []Hash, root, leaf Hash) bool {
	return ProcessProof(proof, leaf) == root
}

// Hex returns the 0x-prefixed hex encoding
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the all-zero digest
func (h Hash) IsZero() bool { return h == Hash{} }

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a hex digest, with or without the 0x prefix
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 2*HashLength {
		return h, fmt.Errorf("invalid hash length %d: %q", len(raw), s)
	}
	if _, err := hex.Decode(h[:], []byte(raw)); err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

// ParseProof decodes a list of hex digests
func ParseProof(items []string) ([]Hash, error) {
	proof := make([]Hash, 0, len(items))
	for _, item := range items {
		h, err := ParseHash(item)
		if err != nil {
			return nil, err
		}
		proof = append(proof, h)
	}
	return proof, nil
}
