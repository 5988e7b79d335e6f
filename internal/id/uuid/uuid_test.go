// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique, valid and version 7.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if id1 >= id2 {
		t.Fatalf("expected time-ordered IDs, got %s then %s", id1, id2)
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	if got := RequestID("edge-42"); got != "edge-42" {
		t.Fatalf("expected incoming ID to be kept, got %q", got)
	}
	for _, bad := range []string{"", "has space", "line\nbreak", string(make([]byte, maxRequestIDLen+1))} {
		got := RequestID(bad)
		if _, err := goUUID.Parse(got); err != nil {
			t.Fatalf("RequestID(%q) = %q, want a fresh UUID", bad, got)
		}
	}
}
