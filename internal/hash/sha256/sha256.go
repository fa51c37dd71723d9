// Package sha256 computes the body digests attached to published messages so
// consumers can detect truncated or altered payloads.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the lowercase hex SHA-256 of body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether body matches a digest produced by Digest.
func Verify(body []byte, digest string) bool {
	return Digest(body) == digest
}
