package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintLength is the number of hex characters kept from the digest
const FingerprintLength = 16

const fingerprintSeparator = "|"

// Fingerprint computes the grouping key for an error signature. Empty parts
// are skipped rather than replaced with a placeholder.
//
// Distinct errors that only differ in dynamic values collapse into one group,
// and occasionally two textually similar errors merge. Both are intended.
func Fingerprint(errorType, normalizedMessage, location, component string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{errorType, normalizedMessage, location, component} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, fingerprintSeparator)))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}
