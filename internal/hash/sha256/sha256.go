// Package sha256 computes content digests for downloaded artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Hasher produces hex-encoded SHA-256 digests.
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

// HashReader consumes r and returns its digest and length.
func (h *Hasher) HashReader(r io.Reader) (string, int64, error) {
	d := NewDigest()
	n, err := io.Copy(d, r)
	if err != nil {
		return "", n, fmt.Errorf("hash reader: %w", err)
	}
	return d.Sum(), n, nil
}

// Digest accumulates bytes written to it. It is usually paired with an
// io.MultiWriter so content is hashed while being stored.
type Digest struct {
	h hash.Hash
}

// NewDigest returns an empty digest.
func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

// Write implements io.Writer.
func (d *Digest) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Sum returns the hex digest of everything written so far.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
