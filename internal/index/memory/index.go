// Package memory implements the document index as an in-process positional
// inverted index, optionally persisted to a JSON snapshot file.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cloud.google.com/go/civil"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/textsearch"
)

// Config controls the memory index.
type Config struct {
	// SnapshotPath enables persistence when set.
	SnapshotPath string
	Window       int
	Links        gazette.LinkBuilder
}

type page struct {
	content string
	tokens  []textsearch.Token
	// positions maps a token to its ascending positions on the page.
	positions map[string][]int
}

// shard holds one publication date.
type shard struct {
	pages map[int]*page
	// postings maps a token to the ascending page numbers containing it.
	postings map[string][]int
}

// Index is a concurrency-safe in-memory implementation of gazette.Index.
type Index struct {
	cfg Config

	// writeMu serializes writers so snapshots never interleave.
	writeMu sync.Mutex
	mu      sync.RWMutex
	shards  map[civil.Date]*shard
	closed  bool
}

// New creates an Index, loading the snapshot when one exists.
func New(cfg Config) (*Index, error) {
	if cfg.Window <= 0 {
		cfg.Window = textsearch.DefaultWindow
	}
	if cfg.Links.ViewerURL == "" {
		cfg.Links = gazette.NewLinkBuilder("", 0)
	}
	idx := &Index{cfg: cfg, shards: make(map[civil.Date]*shard)}
	if cfg.SnapshotPath == "" {
		return idx, nil
	}
	pages, err := readSnapshot(cfg.SnapshotPath)
	if err != nil {
		return nil, &gazette.IndexIOError{Op: "load", Err: err}
	}
	for date, list := range groupByDate(pages) {
		idx.shards[date] = buildShard(list)
	}
	return idx, nil
}

// Upsert replaces every date present in pages. Either every date is
// committed or none is.
func (i *Index) Upsert(ctx context.Context, pages []gazette.Page) error {
	if len(pages) == 0 {
		return nil
	}
	if err := validatePages(pages); err != nil {
		return &gazette.IndexIOError{Op: "upsert", Err: err}
	}
	groups := groupByDate(pages)
	built := make(map[civil.Date]*shard, len(groups))
	for date, list := range groups {
		built[date] = buildShard(list)
	}
	if err := ctx.Err(); err != nil {
		return &gazette.IndexIOError{Op: "upsert", Err: err}
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	i.mu.RLock()
	closed := i.closed
	next := make(map[civil.Date]*shard, len(i.shards)+len(built))
	for date, s := range i.shards {
		next[date] = s
	}
	i.mu.RUnlock()
	if closed {
		return &gazette.IndexIOError{Op: "upsert", Err: errors.New("index closed")}
	}
	for date, s := range built {
		next[date] = s
	}

	if i.cfg.SnapshotPath != "" {
		if err := writeSnapshot(i.cfg.SnapshotPath, next); err != nil {
			return &gazette.IndexIOError{Op: "upsert", Err: err}
		}
	}

	i.mu.Lock()
	i.shards = next
	i.mu.Unlock()
	return nil
}

// HasContent reports whether any page is indexed for date.
func (i *Index) HasContent(_ context.Context, date civil.Date) (bool, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return false, &gazette.IndexIOError{Op: "has_content", Err: errors.New("index closed")}
	}
	s, ok := i.shards[date]
	return ok && len(s.pages) > 0, nil
}

// Search returns one highlight per matching page, ascending by page.
func (i *Index) Search(ctx context.Context, date civil.Date, term gazette.Term) ([]gazette.Highlight, error) {
	q, err := textsearch.Compile(term)
	if err != nil {
		return nil, err
	}
	i.mu.RLock()
	s, ok := i.shards[date]
	closed := i.closed
	i.mu.RUnlock()
	if closed {
		return nil, &gazette.IndexIOError{Op: "search", Err: errors.New("index closed")}
	}
	if !ok {
		return nil, nil
	}

	var highlights []gazette.Highlight
	for _, number := range s.candidates(q.Tokens) {
		if err := ctx.Err(); err != nil {
			return nil, &gazette.IndexIOError{Op: "search", Err: err}
		}
		p := s.pages[number]
		if _, found := q.MatchesPositions(p.positions); !found {
			continue
		}
		highlights = append(highlights, gazette.Highlight{
			Page:     number,
			Content:  textsearch.Excerpt(p.content, p.tokens, q, i.cfg.Window),
			Term:     term.Text,
			PageLink: i.cfg.Links.PageLink(date, number),
		})
	}
	return highlights, nil
}

// Close releases the index. Later calls fail with IndexIOError.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

// candidates intersects the posting lists of every token.
func (s *shard) candidates(tokens []string) []int {
	var result []int
	for n, tok := range tokens {
		list := s.postings[tok]
		if len(list) == 0 {
			return nil
		}
		if n == 0 {
			result = append([]int(nil), list...)
			continue
		}
		result = intersect(result, list)
		if len(result) == 0 {
			return nil
		}
	}
	return result
}

func intersect(a, b []int) []int {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func buildShard(pages []gazette.Page) *shard {
	s := &shard{pages: make(map[int]*page, len(pages)), postings: make(map[string][]int)}
	sort.Slice(pages, func(a, b int) bool { return pages[a].PageNumber < pages[b].PageNumber })
	for _, pg := range pages {
		tokens := textsearch.Tokenize(pg.Content)
		positions := make(map[string][]int)
		for pos, tok := range tokens {
			positions[tok.Text] = append(positions[tok.Text], pos)
		}
		if prev, ok := s.pages[pg.PageNumber]; ok {
			for tok := range prev.positions {
				s.postings[tok] = removePage(s.postings[tok], pg.PageNumber)
			}
		}
		s.pages[pg.PageNumber] = &page{content: pg.Content, tokens: tokens, positions: positions}
		for tok := range positions {
			s.postings[tok] = append(s.postings[tok], pg.PageNumber)
		}
	}
	for _, list := range s.postings {
		sort.Ints(list)
	}
	return s
}

func removePage(list []int, number int) []int {
	out := list[:0]
	for _, n := range list {
		if n != number {
			out = append(out, n)
		}
	}
	return out
}

func groupByDate(pages []gazette.Page) map[civil.Date][]gazette.Page {
	groups := make(map[civil.Date][]gazette.Page)
	for _, pg := range pages {
		groups[pg.PublicationDate] = append(groups[pg.PublicationDate], pg)
	}
	return groups
}

func validatePages(pages []gazette.Page) error {
	for _, pg := range pages {
		if pg.PageNumber <= 0 {
			return fmt.Errorf("page number must be > 0, got %d", pg.PageNumber)
		}
		if !pg.PublicationDate.IsValid() {
			return fmt.Errorf("invalid publication date %v", pg.PublicationDate)
		}
	}
	return nil
}

type snapshot struct {
	Pages []gazette.Page `json:"pages"`
}

func readSnapshot(path string) ([]gazette.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap.Pages, nil
}

// writeSnapshot replaces the snapshot file atomically via rename.
func writeSnapshot(path string, shards map[civil.Date]*shard) error {
	var snap snapshot
	dates := make([]civil.Date, 0, len(shards))
	for date := range shards {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })
	for _, date := range dates {
		s := shards[date]
		numbers := make([]int, 0, len(s.pages))
		for n := range s.pages {
			numbers = append(numbers, n)
		}
		sort.Ints(numbers)
		for _, n := range numbers {
			snap.Pages = append(snap.Pages, gazette.Page{PageNumber: n, PublicationDate: date, Content: s.pages[n].content})
		}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error takes precedence
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck,gosec // sync error takes precedence
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
