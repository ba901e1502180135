package sync

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex encoded sha256 hash of the given chunks, joined
// by newlines in the order they were given.
func Fingerprint(chunks ...[]byte) string {
	hasher := sha256.New()
	for i, chunk := range chunks {
		if i > 0 {
			hasher.Write([]byte("\n"))
		}
		hasher.Write(chunk)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
