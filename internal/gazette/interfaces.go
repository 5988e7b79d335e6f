package gazette

import (
	"context"
	"io"
	"time"

	"cloud.google.com/go/civil"
)

// Fetcher retrieves the edition published on a date.
type Fetcher interface {
	Fetch(ctx context.Context, date civil.Date) (FetchResult, error)
}

// Extractor splits a raw document into pages 1..N.
type Extractor interface {
	Extract(ctx context.Context, doc RawDocument) ([]Page, error)
}

// Index is the full-text store of pages keyed by (page, date).
type Index interface {
	Upsert(ctx context.Context, pages []Page) error
	HasContent(ctx context.Context, date civil.Date) (bool, error)
	Search(ctx context.Context, date civil.Date, term Term) ([]Highlight, error)
	Close() error
}

// Registry supplies watcher configurations. The pipeline never mutates them.
type Registry interface {
	ListActive(ctx context.Context) ([]Watcher, error)
	Get(ctx context.Context, id int64) (Watcher, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run events to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Mirror copies indexed pages to a secondary search backend.
type Mirror interface {
	MirrorPages(ctx context.Context, pages []Page) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RunHistory records finished runs and lists the most recent ones.
type RunHistory interface {
	Record(ctx context.Context, summary RunSummary) error
	Recent(ctx context.Context, limit int) ([]RunSummary, error)
}
