package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashText returns the hex SHA-256 digest of text truncated to n hex chars.
// n <= 0 returns the full digest.
func HashText(text string, n int) string {
	sum := sha256.Sum256([]byte(text))
	out := hex.EncodeToString(sum[:])
	if n > 0 && n < len(out) {
		return out[:n]
	}
	return out
}

// HashParts hashes parts joined by a NUL separator so ("ab","c") and ("a","bc") differ.
func HashParts(parts ...string) string {
	return HashText(strings.Join(parts, "\x00"), 0)
}
