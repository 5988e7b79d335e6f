// Package sha256 includes tests for the SHA-256 digest helpers.
package sha256

import (
	"io"
	"strings"
	"testing"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	if got := h.Hash([]byte("hello world")); got != helloDigest {
		t.Fatalf("expected %s, got %s", helloDigest, got)
	}
	if again := h.Hash([]byte("hello world")); again != helloDigest {
		t.Fatalf("expected deterministic hash, got %s", again)
	}
}

// TestReaderDigestMatchesHash ensures streaming and one-shot digests agree.
func TestReaderDigestMatchesHash(t *testing.T) {
	t.Parallel()

	r := New().NewReader(strings.NewReader("hello world"))
	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(body) != "hello world" {
		t.Fatalf("reader altered content: %q", body)
	}
	if got := r.Digest(); got != helloDigest {
		t.Fatalf("expected %s, got %s", helloDigest, got)
	}
}
