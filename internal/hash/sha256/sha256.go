// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest hashes the input and returns a hex digest.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestString hashes a string and returns a hex digest.
func DigestString(s string) string {
	return Digest([]byte(s))
}
