package hash

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Content returns the hex BLAKE2b-256 digest of already canonical note text.
func Content(canonical string) string {
	sum := blake2b.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func Equal(a, b string) bool {
	return a != "" && a == b
}
