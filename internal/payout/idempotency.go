package payout

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key schemes are versioned so a change to the derivation can never
// collide with keys already sent to the provider.
const (
	releaseKeyScheme = "release.v2"
	refundKeyScheme  = "refund.v1"
)

// ReleaseKey derives the provider idempotency key for a payout request.
// The key is a pure function of the request ID, so every retry of the
// same request replays the same key and the provider deduplicates the
// transfer.
func ReleaseKey(requestID string) string {
	return deriveKey(releaseKeyScheme, requestID, "rel_")
}

// RefundKey derives the provider idempotency key for a refund keyed by
// the enforcement action that ordered it.
func RefundKey(actionID string) string {
	return deriveKey(refundKeyScheme, actionID, "ref_")
}

func deriveKey(scheme, id, prefix string) string {
	sum := sha256.Sum256([]byte(scheme + ":" + id))
	return prefix + hex.EncodeToString(sum[:])[:40]
}
