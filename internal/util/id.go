package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns an opaque identifier such as "q_3f2a…". Record types use
// short prefixes: usr, acc, q, tag, tql, jti, rft.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
