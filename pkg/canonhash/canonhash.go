// Package canonhash produces the hex sha256 fingerprints carried by assembly
// snapshots. Objects are hashed over their canonical JSON encoding, so two
// equal values always fingerprint identically regardless of source map order.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Sum returns the hex sha256 digest of b as stored.
func Sum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SumObject marshals v to canonical JSON and returns the hex sha256 digest of
// that encoding together with the encoded bytes.
func SumObject(v any) (string, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return Sum(b), b, nil
}
