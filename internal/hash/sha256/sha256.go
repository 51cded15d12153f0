// Package sha256 provides SHA-256 hashing utilities for segment
// checksums.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// SumHex returns the hex digest of data.
func SumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
