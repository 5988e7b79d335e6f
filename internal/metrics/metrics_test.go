package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://WWW.JornalMinasGerais.mg.gov.br/api", "www.jornalminasgerais.mg.gov.br"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if runsTotal == nil || pagesIndexedTotal == nil || stageDurationSeconds == nil ||
		watcherOutcomesTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(runsTotal.WithLabelValues("replay", "completed"))
	ObserveRun("replay", "completed")
	if val := testutil.ToFloat64(runsTotal.WithLabelValues("replay", "completed")); val != before+1 {
		t.Errorf("Expected runsTotal to grow by 1, got %f -> %f", before, val)
	}

	beforePages := testutil.ToFloat64(pagesIndexedTotal)
	ObservePagesIndexed(3)
	ObservePagesIndexed(-1)
	if val := testutil.ToFloat64(pagesIndexedTotal); val != beforePages+3 {
		t.Errorf("Expected pagesIndexedTotal to grow by 3, got %f -> %f", beforePages, val)
	}

	ObserveStage("fetch", "ok", 20*time.Millisecond)
	if val := testutil.CollectAndCount(stageDurationSeconds); val <= 0 {
		t.Errorf("Expected stageDurationSeconds to be observed, got %d", val)
	}

	ObserveFetch("https://example.org/api", "published", 128)
	if val := testutil.ToFloat64(upstreamFetchesTotal.WithLabelValues("example.org", "published")); val < 1 {
		t.Errorf("Expected upstreamFetchesTotal to be observed, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://www.jornalminasgerais.mg.gov.br", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
