// Package integrity fingerprints signing artifacts for audit and tamper
// detection.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrMismatch is returned by Verify when the bytes do not match the expected
// fingerprint.
var ErrMismatch = errors.New("content hash mismatch")

// Digest is a SHA-256 content hash.
type Digest [sha256.Size]byte

// Hash returns the SHA-256 digest of b.
func Hash(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// String returns the lowercase hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Equal compares two digests in constant time.
func (d Digest) Equal(other Digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// Parse decodes a hex encoded SHA-256 digest.
func Parse(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("failed to decode digest: %w", err)
	}
	if len(raw) != sha256.Size {
		return d, fmt.Errorf("invalid digest length %d", len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// Verify recomputes the digest of b and compares it with the hex encoded
// expected value.
func Verify(b []byte, expected string) error {
	want, err := Parse(expected)
	if err != nil {
		return err
	}
	if !Hash(b).Equal(want) {
		return ErrMismatch
	}
	return nil
}
