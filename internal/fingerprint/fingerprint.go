// Package fingerprint hashes buffers and documents so unchanged content can
// be recognized without keeping copies around.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Sum is a BLAKE2b-256 digest.
type Sum [blake2b.Size256]byte

// Of hashes the concatenation of parts. Each part is length-prefixed, so
// ("ab", "c") and ("a", "bc") differ.
func Of(parts ...string) Sum {
	h, _ := blake2b.New256(nil)
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	var s Sum
	copy(s[:], h.Sum(nil))
	return s
}

// Bytes hashes raw data without framing.
func Bytes(data []byte) Sum {
	return blake2b.Sum256(data)
}

// String returns the hex form of the digest.
func (s Sum) String() string {
	return hex.EncodeToString(s[:])
}

// Short returns the first 16 hex characters, enough for ETags and log fields.
func (s Sum) Short() string {
	return s.String()[:16]
}

// IsZero reports whether s is the zero value.
func (s Sum) IsZero() bool {
	return s == Sum{}
}
