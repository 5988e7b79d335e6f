// Package archive stores raw editions in a blob store under a date-based layout.
package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/hash/sha256"
)

// PDFContentType is the content type of archived editions.
const PDFContentType = "application/pdf"

// Entry describes an archived edition.
type Entry struct {
	URI    string
	Path   string
	Digest string
	Size   int
}

// Archiver writes editions to a BlobStore.
type Archiver struct {
	store  gazette.BlobStore
	hasher *sha256.Hasher
}

// New returns an Archiver over store.
func New(store gazette.BlobStore) *Archiver {
	return &Archiver{store: store, hasher: sha256.New()}
}

// EditionPath is the object path of the main notebook for date.
func EditionPath(date civil.Date) string {
	return fmt.Sprintf("editions/%04d/%02d/%02d/caderno1_%s.pdf", date.Year, int(date.Month), date.Day, date)
}

// Store decodes doc and uploads the PDF, returning its location and digest.
func (a *Archiver) Store(ctx context.Context, doc gazette.RawDocument) (Entry, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(doc.Data))
	if err != nil {
		return Entry{}, fmt.Errorf("decode edition: %w", err)
	}
	path := EditionPath(doc.PublicationDate)
	reader := a.hasher.NewReader(bytes.NewReader(data))
	uri, err := a.store.PutObject(ctx, path, PDFContentType, reader)
	if err != nil {
		return Entry{}, fmt.Errorf("archive edition %s: %w", doc.PublicationDate, err)
	}
	return Entry{URI: uri, Path: path, Digest: reader.Digest(), Size: len(data)}, nil
}
