// Package poppler extracts per-page text from PDF editions with the poppler
// command line tools.
package poppler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

// Config locates the poppler binaries.
type Config struct {
	PdfInfoPath   string
	PdfToTextPath string
	// Timeout bounds each subprocess.
	Timeout time.Duration
	TempDir string
}

// Extractor shells out to pdfinfo and pdftotext.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// New returns an Extractor with defaults applied.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.PdfInfoPath == "" {
		cfg.PdfInfoPath = "pdfinfo"
	}
	if cfg.PdfToTextPath == "" {
		cfg.PdfToTextPath = "pdftotext"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract decodes doc and returns pages 1..N in order. The temporary PDF is
// removed on every path.
func (e *Extractor) Extract(ctx context.Context, doc gazette.RawDocument) (pages []gazette.Page, err error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(doc.Data))
	if err != nil {
		return nil, &gazette.ExtractionError{Kind: gazette.ExtractionDecode, Err: err}
	}
	if len(data) == 0 {
		return nil, &gazette.ExtractionError{Kind: gazette.ExtractionDecode, Err: errors.New("empty document")}
	}

	f, err := os.CreateTemp(e.cfg.TempDir, "edition-*.pdf")
	if err != nil {
		return nil, &gazette.ExtractionError{Kind: gazette.ExtractionMalformed, Err: fmt.Errorf("create temp file: %w", err)}
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			e.logger.Warn("failed to remove temp edition", zap.String("path", path), zap.Error(rmErr))
		}
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, &gazette.ExtractionError{Kind: gazette.ExtractionMalformed, Err: fmt.Errorf("write temp file: %w", err)}
	}
	if err := f.Close(); err != nil {
		return nil, &gazette.ExtractionError{Kind: gazette.ExtractionMalformed, Err: fmt.Errorf("close temp file: %w", err)}
	}

	count, err := e.pageCount(ctx, path)
	if err != nil {
		return nil, err
	}
	if doc.DeclaredPages > 0 && doc.DeclaredPages != count {
		return nil, &gazette.ExtractionError{
			Kind: gazette.ExtractionPageCount,
			Err:  fmt.Errorf("upstream declared %d pages, document has %d", doc.DeclaredPages, count),
		}
	}

	pages = make([]gazette.Page, 0, count)
	for n := 1; n <= count; n++ {
		text, err := e.pageText(ctx, path, n)
		if err != nil {
			return nil, err
		}
		pages = append(pages, gazette.Page{PageNumber: n, PublicationDate: doc.PublicationDate, Content: text})
	}
	e.logger.Debug("edition extracted", zap.Stringer("date", doc.PublicationDate), zap.Int("pages", count))
	return pages, nil
}

func (e *Extractor) pageCount(ctx context.Context, path string) (int, error) {
	out, err := e.run(ctx, e.cfg.PdfInfoPath, path)
	if err != nil {
		return 0, err
	}
	count, err := parsePageCount(out)
	if err != nil {
		return 0, &gazette.ExtractionError{Kind: gazette.ExtractionMalformed, Err: err}
	}
	return count, nil
}

func (e *Extractor) pageText(ctx context.Context, path string, n int) (string, error) {
	page := strconv.Itoa(n)
	out, err := e.run(ctx, e.cfg.PdfToTextPath, "-layout", "-f", page, "-l", page, path, "-")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (e *Extractor) run(parent context.Context, bin string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, e.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &gazette.ExtractionError{Kind: gazette.ExtractionToolUnavailable, Err: fmt.Errorf("%s: %w", bin, err)}
		}
		if parentErr := parent.Err(); parentErr != nil {
			return nil, fmt.Errorf("%s: %w", bin, parentErr)
		}
		if ctx.Err() != nil {
			return nil, &gazette.ExtractionError{Kind: gazette.ExtractionMalformed, Err: fmt.Errorf("%s timed out after %s", bin, e.cfg.Timeout)}
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, &gazette.ExtractionError{Kind: gazette.ExtractionMalformed, Err: fmt.Errorf("%s: %w: %s", bin, err, msg)}
	}
	return stdout.Bytes(), nil
}

func parsePageCount(out []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(key) != "Pages" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("parse page count %q: %w", value, err)
		}
		if n <= 0 {
			return 0, fmt.Errorf("document has %d pages", n)
		}
		return n, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan pdfinfo output: %w", err)
	}
	return 0, errors.New("pdfinfo output has no page count")
}
