// Package idgen mints the engine's random identifiers. Entity IDs are
// prefixed ("job_", "po_", "dsp_", "act_", "wh_") so logs and support
// tickets identify the record type at a glance.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// WithPrefix returns prefix + 24 hex chars of randomness.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(randomBytes(12))
}

// Hex returns numBytes of randomness hex-encoded. Used for API keys
// and webhook signing secrets.
func Hex(numBytes int) string {
	return hex.EncodeToString(randomBytes(numBytes))
}

// New returns a UUID-shaped random ID for callers that need one with
// no type prefix (request IDs).
func New() string {
	b := randomBytes(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
