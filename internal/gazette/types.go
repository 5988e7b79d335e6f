// Package gazette defines the core types shared across the ingestion and
// notification subsystems.
package gazette

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Page is one page of an edition, keyed by (PageNumber, PublicationDate).
type Page struct {
	PageNumber      int        `json:"page_number"`
	PublicationDate civil.Date `json:"publication_date"`
	Content         string     `json:"content"`
}

// Term is a single search atom owned by a watcher.
type Term struct {
	Text  string `json:"term" mapstructure:"text"`
	Exact bool   `json:"exact" mapstructure:"exact"`
}

// Validate rejects terms that can never produce a match.
func (t Term) Validate() error {
	if strings.TrimSpace(t.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidTerm)
	}
	if !hasSearchableRune(t.Text) {
		return fmt.Errorf("%w: %q has no searchable token", ErrInvalidTerm, t.Text)
	}
	return nil
}

// Watcher is a saved search configuration. The core only reads it.
type Watcher struct {
	ID           int64    `json:"id" mapstructure:"id"`
	Label        string   `json:"label" mapstructure:"label"`
	Terms        []Term   `json:"terms" mapstructure:"terms"`
	Recipients   []string `json:"mail_to" mapstructure:"mail_to"`
	Subject      string   `json:"mail_subject,omitempty" mapstructure:"mail_subject"`
	AttachExport bool     `json:"attach_csv" mapstructure:"attach_csv"`
	Active       bool     `json:"active" mapstructure:"active"`
}

// Highlight is one located match of a term on a page.
type Highlight struct {
	Page     int    `json:"page"`
	Content  string `json:"content"`
	Term     string `json:"term"`
	PageLink string `json:"page_link"`
}

// Trigger tags how a report was requested. It never affects matching.
type Trigger string

// Trigger values.
const (
	TriggerScheduled Trigger = "scheduled"
	TriggerReplay    Trigger = "replay"
)

// Report aggregates the highlights of one watcher against one edition.
type Report struct {
	PublicationDate civil.Date
	Highlights      []Highlight
	Terms           []Term
	Trigger         Trigger
}

// Count is the number of highlights in the report.
func (r Report) Count() int {
	return len(r.Highlights)
}

type reportJSON struct {
	PublicationDate civil.Date  `json:"publish_date"`
	Highlights      []Highlight `json:"highlights"`
	Terms           []Term      `json:"search_terms"`
	Trigger         Trigger     `json:"trigger"`
	Count           int         `json:"count"`
}

// MarshalJSON renders the report with its derived count.
func (r Report) MarshalJSON() ([]byte, error) {
	highlights := r.Highlights
	if highlights == nil {
		highlights = []Highlight{}
	}
	data, err := json.Marshal(reportJSON{
		PublicationDate: r.PublicationDate,
		Highlights:      highlights,
		Terms:           r.Terms,
		Trigger:         r.Trigger,
		Count:           len(highlights),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes a report, ignoring the serialized count.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw reportJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal report: %w", err)
	}
	*r = Report{
		PublicationDate: raw.PublicationDate,
		Highlights:      raw.Highlights,
		Terms:           raw.Terms,
		Trigger:         raw.Trigger,
	}
	return nil
}

// RawDocument is the encoded edition as returned by the upstream service.
type RawDocument struct {
	PublicationDate civil.Date
	// Data is the base64-encoded PDF.
	Data          string
	DeclaredPages int
	SingleFile    bool
	NotebookName  string
}

// FetchStatus tags the outcome of a fetch that did not fail.
type FetchStatus int

// Fetch outcomes. Transport failures are reported through *TransportError.
const (
	FetchStatusNotPublished FetchStatus = iota
	FetchStatusPublished
)

func (s FetchStatus) String() string {
	if s == FetchStatusPublished {
		return "published"
	}
	return "not_published"
}

// FetchResult carries the document only when Status is FetchStatusPublished.
type FetchResult struct {
	Status   FetchStatus
	Document RawDocument
}

// Published reports whether the fetch yielded a document.
func (r FetchResult) Published() bool {
	return r.Status == FetchStatusPublished
}

// RunStatus is the operator-facing outcome of a run.
type RunStatus string

// Run status values.
const (
	RunStatusSkipped               RunStatus = "skipped"
	RunStatusAborted               RunStatus = "aborted"
	RunStatusCompletedWithFailures RunStatus = "completed_with_failures"
	RunStatusCompleted             RunStatus = "completed"
	RunStatusCanceled              RunStatus = "canceled"
)

// Stage names the per-watcher step that failed.
type Stage string

// Per-watcher stages.
const (
	StageMatch    Stage = "match"
	StageDispatch Stage = "dispatch"
)

// WatcherFailure records an isolated per-watcher failure.
type WatcherFailure struct {
	WatcherID int64  `json:"watcher_id"`
	Stage     Stage  `json:"stage"`
	Code      Code   `json:"code"`
	Error     string `json:"error"`
}

// RunSummary is returned by a scheduled run and published as a run event.
type RunSummary struct {
	RunID             string           `json:"run_id"`
	Date              civil.Date       `json:"date,omitzero"`
	Status            RunStatus        `json:"status"`
	State             State            `json:"state"`
	Trigger           Trigger          `json:"trigger"`
	PagesIndexed      int              `json:"pages_indexed"`
	WatchersProcessed int              `json:"watchers_processed"`
	WatchersMatched   int              `json:"watchers_matched"`
	WatchersNotified  int              `json:"watchers_notified"`
	Failures          []WatcherFailure `json:"errors"`
	Error             string           `json:"error,omitempty"`
	ErrorCode         Code             `json:"error_code,omitempty"`
	EditionDigest     string           `json:"edition_digest,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
}

// EventKey partitions run events by run.
func (s RunSummary) EventKey() string {
	return s.RunID
}
