package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// NewID returns 24 hex characters of randomness, used for request ids.
func NewID() string {
	return RandomHex(12)
}

// RandomHex returns n random bytes hex encoded. Record and object keys use
// it as a collision suffix; if the system source fails the suffix is zeros
// and the millisecond stamp alone orders the key.
func RandomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(buf)
}
