// Package sha256 computes edition digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
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
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader hashes everything read through it.
type Reader struct {
	r io.Reader
	h hash.Hash
}

// NewReader wraps r.
func (h *Hasher) NewReader(r io.Reader) *Reader {
	d := sha256.New()
	return &Reader{r: io.TeeReader(r, d), h: d}
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.r.Read(p) //nolint:wrapcheck // io.Reader contract
}

// Digest is the hex digest of the bytes read so far.
func (r *Reader) Digest() string {
	return hex.EncodeToString(r.h.Sum(nil))
}
