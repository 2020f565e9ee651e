// Package sha256 computes report content digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Prefix labels digests with their algorithm.
const Prefix = "sha256:"

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the labelled hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}

// HashReader digests r without buffering it in memory.
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	digest := sha256.New()
	if _, err := io.Copy(digest, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return Prefix + hex.EncodeToString(digest.Sum(nil)), nil
}
