package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

// RunStore keeps run summaries in memory, newest last.
type RunStore struct {
	mu   sync.RWMutex
	runs []gazette.RunSummary
	max  int
}

// NewRunStore keeps at most max runs. max <= 0 keeps 100.
func NewRunStore(max int) *RunStore {
	if max <= 0 {
		max = 100
	}
	return &RunStore{max: max}
}

// Record appends summary, replacing an earlier entry with the same run ID.
func (s *RunStore) Record(_ context.Context, summary gazette.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].RunID == summary.RunID {
			s.runs[i] = summary
			return nil
		}
	}
	s.runs = append(s.runs, summary)
	if len(s.runs) > s.max {
		s.runs = append([]gazette.RunSummary(nil), s.runs[len(s.runs)-s.max:]...)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *RunStore) Recent(_ context.Context, limit int) ([]gazette.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]gazette.RunSummary, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}
