package archive

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/storage/memory"
)

var jan14 = civil.Date{Year: 2026, Month: 1, Day: 14}

func TestEditionPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "editions/2026/01/14/caderno1_2026-01-14.pdf", EditionPath(jan14))
}

func TestStore(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	doc := gazette.RawDocument{PublicationDate: jan14, Data: base64.StdEncoding.EncodeToString([]byte("hello world"))}

	entry, err := New(store).Store(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, "memory://editions/2026/01/14/caderno1_2026-01-14.pdf", entry.URI)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", entry.Digest)
	require.Equal(t, 11, entry.Size)

	obj, ok := store.Get(entry.Path)
	require.True(t, ok)
	require.Equal(t, PDFContentType, obj.ContentType)
	require.Equal(t, "hello world", string(obj.Data))
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestStore_Failures(t *testing.T) {
	t.Parallel()

	_, err := New(memory.NewBlobStore()).Store(context.Background(), gazette.RawDocument{Data: "%%%"})
	require.ErrorContains(t, err, "decode edition")

	doc := gazette.RawDocument{PublicationDate: jan14, Data: base64.StdEncoding.EncodeToString([]byte("x"))}
	_, err = New(failingStore{}).Store(context.Background(), doc)
	require.ErrorContains(t, err, "bucket gone")
}
