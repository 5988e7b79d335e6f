// Package memory provides a static watcher registry loaded from configuration.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

// Registry serves a fixed set of watchers.
type Registry struct {
	mu       sync.RWMutex
	watchers map[int64]gazette.Watcher
}

// New returns a Registry holding copies of watchers. IDs must be unique.
func New(watchers []gazette.Watcher) (*Registry, error) {
	r := &Registry{watchers: make(map[int64]gazette.Watcher, len(watchers))}
	for _, w := range watchers {
		if _, dup := r.watchers[w.ID]; dup {
			return nil, fmt.Errorf("duplicate watcher id %d", w.ID)
		}
		r.watchers[w.ID] = clone(w)
	}
	return r, nil
}

// ListActive returns active watchers ordered by ID.
func (r *Registry) ListActive(_ context.Context) ([]gazette.Watcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]gazette.Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		if w.Active {
			out = append(out, clone(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns any watcher, active or not.
func (r *Registry) Get(_ context.Context, id int64) (gazette.Watcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.watchers[id]
	if !ok {
		return gazette.Watcher{}, fmt.Errorf("watcher %d: %w", id, gazette.ErrWatcherNotFound)
	}
	return clone(w), nil
}

// Put adds or replaces a watcher.
func (r *Registry) Put(w gazette.Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers[w.ID] = clone(w)
}

func clone(w gazette.Watcher) gazette.Watcher {
	w.Terms = append([]gazette.Term(nil), w.Terms...)
	w.Recipients = append([]string(nil), w.Recipients...)
	return w
}
