// Package bytesx contains small byte-slice helpers.
package bytesx

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	mrand "math/rand"
)

// GenRandomBytes returns an array of bytes with the given size using
// a CSRNG, on success, or an error, in case of failure.
func GenRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomPadding returns between 0 (inclusive) and max (exclusive)
// random bytes. Used by the handshake and the keepalive frames to
// randomize message sizes.
func RandomPadding(max int) []byte {
	if max <= 0 {
		return nil
	}
	size := mrand.Intn(max)
	b, err := GenRandomBytes(size)
	if err != nil {
		return nil
	}
	return b
}

// HexPrefix formats the first n bytes of b as hex, appending an
// ellipsis when b is longer than n.
func HexPrefix(b []byte, n int) string {
	if len(b) <= n {
		return hex.EncodeToString(b)
	}
	return fmt.Sprintf("%s...", hex.EncodeToString(b[:n]))
}
