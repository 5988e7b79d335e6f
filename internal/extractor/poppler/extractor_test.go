package poppler

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

var jan14 = civil.Date{Year: 2026, Month: 1, Day: 14}

// writeScript drops an executable shell script into dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
}

func newExtractor(t *testing.T, pdfinfo, pdftotext string) (*Extractor, string) {
	t.Helper()
	dir := t.TempDir()
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.Mkdir(tmp, 0o755))
	e := New(Config{
		PdfInfoPath:   writeScript(t, dir, "pdfinfo", pdfinfo),
		PdfToTextPath: writeScript(t, dir, "pdftotext", pdftotext),
		Timeout:       5 * time.Second,
		TempDir:       tmp,
	}, nil)
	return e, tmp
}

func doc(declared int) gazette.RawDocument {
	return gazette.RawDocument{
		PublicationDate: jan14,
		Data:            base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 fake")),
		DeclaredPages:   declared,
	}
}

func TestExtract_SplitsPages(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	// $3 is the first page argument after "-layout -f".
	e, tmp := newExtractor(t,
		"printf 'Title: x\\nPages:          3\\n'\n",
		"if [ \"$3\" = 2 ]; then exit 0; fi\nprintf 'page %s text' \"$3\"\n",
	)

	pages, err := e.Extract(context.Background(), doc(3))
	require.NoError(t, err)
	require.Len(t, pages, 3)
	require.Equal(t, 1, pages[0].PageNumber)
	require.Equal(t, "page 1 text", pages[0].Content)
	require.Equal(t, "", pages[1].Content)
	require.Equal(t, "page 3 text", pages[2].Content)
	require.Equal(t, jan14, pages[2].PublicationDate)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExtract_DecodeFailure(t *testing.T) {
	t.Parallel()

	e := New(Config{PdfInfoPath: "/nonexistent/pdfinfo"}, nil)
	_, err := e.Extract(context.Background(), gazette.RawDocument{Data: "!!not base64!!"})

	var extractErr *gazette.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, gazette.ExtractionDecode, extractErr.Kind)
}

func TestExtract_ToolUnavailable(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	e := New(Config{PdfInfoPath: filepath.Join(tmp, "missing-pdfinfo"), TempDir: tmp}, nil)
	_, err := e.Extract(context.Background(), doc(0))

	var extractErr *gazette.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, gazette.ExtractionToolUnavailable, extractErr.Kind)

	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestExtract_MalformedInfo(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	tests := map[string]string{
		"no pages line": "printf 'Title: x\\n'\n",
		"zero pages":    "printf 'Pages: 0\\n'\n",
		"tool fails":    "echo 'Syntax Error: broken xref' >&2\nexit 1\n",
	}
	for name, script := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			e, _ := newExtractor(t, script, "exit 0\n")
			_, err := e.Extract(context.Background(), doc(0))
			var extractErr *gazette.ExtractionError
			require.ErrorAs(t, err, &extractErr)
			require.Equal(t, gazette.ExtractionMalformed, extractErr.Kind)
		})
	}
}

func TestExtract_DeclaredPageMismatch(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	e, _ := newExtractor(t, "printf 'Pages: 2\\n'\n", "printf 'x'\n")
	_, err := e.Extract(context.Background(), doc(5))

	var extractErr *gazette.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, gazette.ExtractionPageCount, extractErr.Kind)
	require.Equal(t, gazette.CodeExtraction, gazette.Classify(err))
}

func TestExtract_Timeout(t *testing.T) {
	t.Parallel()
	skipWithoutShell(t)

	e, _ := newExtractor(t, "exec sleep 5\n", "exit 0\n")
	e.cfg.Timeout = 50 * time.Millisecond
	_, err := e.Extract(context.Background(), doc(0))
	var extractErr *gazette.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, gazette.ExtractionMalformed, extractErr.Kind)
	require.ErrorContains(t, err, "timed out")
}

func TestParsePageCount(t *testing.T) {
	t.Parallel()

	n, err := parsePageCount([]byte("Producer: x\nPages:           148\nEncrypted: no\n"))
	require.NoError(t, err)
	require.Equal(t, 148, n)

	_, err = parsePageCount([]byte("Pages: many\n"))
	require.Error(t, err)
}
