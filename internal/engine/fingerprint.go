package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the stable cache identity of a query. Whitespace is
// normalized first so reformatting a query does not orphan its cache entry.
func Fingerprint(query string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// keyFingerprint namespaces single-record refreshes away from query runs so
// the two can never collide in the run registry.
func keyFingerprint(key string) string {
	return "key:" + key
}
