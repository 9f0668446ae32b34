// Package util provides logging and small shared helpers used across the
// signaling server and the peer client.
package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomHexID returns n random bytes rendered as lowercase hex. It uses a
// cryptographic RNG unconditionally; if the system RNG is unavailable this
// panics rather than falling back to a weaker source, since a predictable
// room or file id would let an unrelated party guess it.
func RandomHexID(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("util: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
