package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewID returns a prefixed random identifier, e.g. "map_9f2c4e...".
func NewID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("util: rand.Read failed: %v", err))
	}
	return prefix + "_" + hex.EncodeToString(b)
}
