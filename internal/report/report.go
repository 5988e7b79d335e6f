// Package report builds per-watcher match reports against an indexed edition.
package report

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

// Searcher is the slice of the document index the builder needs.
type Searcher interface {
	Search(ctx context.Context, date civil.Date, term gazette.Term) ([]gazette.Highlight, error)
}

// Builder runs a watcher's terms against the index.
type Builder struct {
	index Searcher
}

// NewBuilder returns a Builder over index.
func NewBuilder(index Searcher) *Builder {
	return &Builder{index: index}
}

// Build searches each term in order and concatenates the highlights. Terms
// are validated before any query runs, so an invalid term fails the whole
// report without touching the index.
func (b *Builder) Build(ctx context.Context, watcherID int64, terms []gazette.Term, date civil.Date, trigger gazette.Trigger) (gazette.Report, error) {
	for _, term := range terms {
		if err := term.Validate(); err != nil {
			return gazette.Report{}, &gazette.MatchError{WatcherID: watcherID, Err: err}
		}
	}

	highlights := make([]gazette.Highlight, 0)
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return gazette.Report{}, &gazette.MatchError{WatcherID: watcherID, Err: err}
		}
		found, err := b.index.Search(ctx, date, term)
		if err != nil {
			return gazette.Report{}, &gazette.MatchError{
				WatcherID: watcherID,
				Err:       fmt.Errorf("search %q: %w", term.Text, err),
			}
		}
		highlights = append(highlights, found...)
	}

	return gazette.Report{
		PublicationDate: date,
		Highlights:      highlights,
		Terms:           append([]gazette.Term(nil), terms...),
		Trigger:         trigger,
	}, nil
}
