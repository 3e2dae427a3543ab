package catalog

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ETag returns a strong entity tag for a catalog document.
func ETag(data []byte) string {
	sum := blake2b.Sum256(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
