package utils // package utils provides hashing and randomness helpers shared by auth and rate limiting

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA‑256 hashing for refresh tokens and limiter identifiers
	"encoding/hex"  // hex encoding of digests and random bytes
)

// SHA256Hex returns the SHA‑256 hash of s as a 64 character hex string.
// Refresh tokens are stored this way so that a leaked table row cannot be
// replayed, and rate-limit identifiers use it to get a fixed-width key.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RandomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.  If the random number generator
// fails, an error is returned.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
