package gazette

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"cloud.google.com/go/civil"
)

var (
	// ErrNotPublished means no edition exists for the requested date.
	ErrNotPublished = errors.New("edition not published")
	// ErrWatcherNotFound is returned by registries for unknown IDs.
	ErrWatcherNotFound = errors.New("watcher not found")
	// ErrFutureDate rejects requests for dates after today.
	ErrFutureDate = errors.New("date is in the future")
	// ErrInvalidTerm marks a term that cannot be searched.
	ErrInvalidTerm = errors.New("invalid term")
)

// TransportError reports an upstream failure other than "not published".
type TransportError struct {
	Date       civil.Date
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch edition %s: unexpected status %d: %v", e.Date, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch edition %s: %v", e.Date, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExtractionKind separates decode failures from tool failures.
type ExtractionKind string

// Extraction failure kinds.
const (
	ExtractionDecode          ExtractionKind = "decode"
	ExtractionToolUnavailable ExtractionKind = "tool_unavailable"
	ExtractionMalformed       ExtractionKind = "malformed"
	ExtractionPageCount       ExtractionKind = "page_count"
)

// ExtractionError reports a failure to turn a RawDocument into pages.
type ExtractionError struct {
	Kind ExtractionKind
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract pages (%s): %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IndexIOError reports a storage failure in the document index.
type IndexIOError struct {
	Op  string
	Err error
}

func (e *IndexIOError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *IndexIOError) Unwrap() error { return e.Err }

// MatchError is a per-watcher failure while building a report.
type MatchError struct {
	WatcherID int64
	Err       error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("match watcher %d: %v", e.WatcherID, e.Err)
}

func (e *MatchError) Unwrap() error { return e.Err }

// DeliveryError is a per-watcher failure while sending a notification.
type DeliveryError struct {
	WatcherID int64
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver watcher %d: %v", e.WatcherID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Code is a stable error class used in metrics labels and API payloads.
type Code string

// Error codes.
const (
	CodeUnknown      Code = "unknown"
	CodeNotPublished Code = "not_published"
	CodeTransport    Code = "transport"
	CodeExtraction   Code = "extraction"
	CodeIndexIO      Code = "index_io"
	CodeMatch        Code = "match"
	CodeDelivery     Code = "delivery"
	CodeNotFound     Code = "not_found"
	CodeInvalid      Code = "invalid"
	CodeCanceled     Code = "canceled"
)

// Classify maps an error onto its Code. Typed errors win, so a timeout
// inside a transport or index call is reported as that failure; only an
// unwrapped cancellation is CodeCanceled.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var (
		transportErr  *TransportError
		extractionErr *ExtractionError
		indexErr      *IndexIOError
		deliveryErr   *DeliveryError
		matchErr      *MatchError
	)
	switch {
	case errors.Is(err, ErrNotPublished):
		return CodeNotPublished
	case errors.Is(err, ErrWatcherNotFound):
		return CodeNotFound
	case errors.As(err, &transportErr):
		return CodeTransport
	case errors.As(err, &extractionErr):
		return CodeExtraction
	case errors.As(err, &deliveryErr):
		return CodeDelivery
	case errors.As(err, &matchErr):
		return CodeMatch
	case errors.As(err, &indexErr):
		return CodeIndexIO
	case errors.Is(err, ErrFutureDate), errors.Is(err, ErrInvalidTerm):
		return CodeInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	}
	return CodeUnknown
}

func hasSearchableRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
