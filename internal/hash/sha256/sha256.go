// Package sha256 derives content-addressed keys for archived pages.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// Hasher hashes with SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Key returns an object key sharded by the first digest byte, for example
// "b9/b94d27...e9.html".
func (h *Hasher) Key(data []byte, ext string) string {
	digest, _ := h.Hash(data)
	return path.Join(digest[:2], digest+ext)
}
