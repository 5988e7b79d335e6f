// Package collyfetcher implements gazette.Fetcher against the gazette's JSON API using gocolly.
package collyfetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/metrics"
	"github.com/JakeFAU/gazette-watch/internal/retry"
)

// DefaultBaseURL is the public gazette host.
const DefaultBaseURL = "https://www.jornalminasgerais.mg.gov.br"

const editionPath = "/api/v1/Jornal/ObterEdicaoPorDataPublicacao"

// Config controls collector behavior.
type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	// Location decides what "today" is when rejecting future dates.
	Location *time.Location
}

// Waiter throttles outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher looks up editions by publication date.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	limiter   Waiter
	clock     gazette.Clock
	retry     *retry.Policy
	logger    *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// capture holds what the collector callbacks saw for one request.
type capture struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher. limiter and clock may be nil.
func New(cfg Config, limiter Waiter, clock gazette.Clock, logger *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.NewExponential(cfg.MaxAttempts)
	policy.Retryable = isRetryable
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		limiter:   limiter,
		clock:     clock,
		retry:     policy,
		logger:    logger,
	}
}

// EditionURL is the lookup URL for date.
func (f *Fetcher) EditionURL(date civil.Date) string {
	return f.cfg.BaseURL + editionPath + "?dataPublicacao=" + url.QueryEscape(date.String())
}

// Fetch returns NotPublished for future dates and for 401/404 answers,
// Published with the document for 200, ctx's error when ctx ends, and a
// *gazette.TransportError for everything else.
func (f *Fetcher) Fetch(ctx context.Context, date civil.Date) (gazette.FetchResult, error) {
	if f.clock != nil {
		today := civil.DateOf(f.clock.Now().In(f.cfg.Location))
		if date.After(today) {
			f.logger.Debug("skipping future date", zap.Stringer("date", date))
			return gazette.FetchResult{Status: gazette.FetchStatusNotPublished}, nil
		}
	}

	target := f.EditionURL(date)
	var result gazette.FetchResult
	err := retry.Do(ctx, f.retry, func(ctx context.Context) error {
		res, err := f.fetchOnce(ctx, date, target)
		if err != nil {
			f.logger.Warn("edition lookup failed", zap.Stringer("date", date), zap.Error(err))
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		metrics.ObserveFetch(target, "error", 0)
		if ctx.Err() != nil {
			return gazette.FetchResult{}, fmt.Errorf("fetch edition %s: %w", date, ctx.Err())
		}
		var transportErr *gazette.TransportError
		if !errors.As(err, &transportErr) {
			err = &gazette.TransportError{Date: date, Err: err}
		}
		return gazette.FetchResult{}, err
	}
	metrics.ObserveFetch(target, result.Status.String(), len(result.Document.Data))
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, date civil.Date, target string) (gazette.FetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return gazette.FetchResult{}, fmt.Errorf("wait for upstream slot: %w", err)
		}
	}

	var got capture
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, &got)
	visitErr := f.runCollector(ctx, collector, target)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return gazette.FetchResult{}, fmt.Errorf("fetch edition %s: %w", date, ctxErr)
	}

	switch {
	case got.status == http.StatusOK:
		return decodeEdition(date, got.body)
	case got.status == http.StatusUnauthorized || got.status == http.StatusNotFound:
		return gazette.FetchResult{Status: gazette.FetchStatusNotPublished}, nil
	case got.status != 0:
		return gazette.FetchResult{}, &gazette.TransportError{
			Date:       date,
			StatusCode: got.status,
			Err:        errors.New(http.StatusText(got.status)),
		}
	}
	if visitErr == nil {
		visitErr = got.err
	}
	if visitErr == nil {
		visitErr = errors.New("upstream produced no response")
	}
	return gazette.FetchResult{}, &gazette.TransportError{Date: date, Err: visitErr}
}

// buildCollector returns a fresh collector bound to ctx. Each call gets its
// own so concurrent fetches never share callbacks.
func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false))
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.MaxBodySize = 0
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(&contextTransport{base: f.transport, ctx: ctx})
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, got *capture) {
	hooks.OnResponse(func(r *colly.Response) {
		got.status = r.StatusCode
		got.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			got.status = r.StatusCode
		}
		got.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

type editionEnvelope struct {
	Data *struct {
		PublicationDate string `json:"dataPublicacao"`
		MainNotebook    *struct {
			File        string `json:"arquivo"`
			SingleFile  bool   `json:"arquivoUnico"`
			TotalPages  int    `json:"totalPaginas"`
			Description string `json:"descricaoCaderno"`
		} `json:"arquivoCadernoPrincipal"`
	} `json:"dados"`
}

func decodeEdition(date civil.Date, body []byte) (gazette.FetchResult, error) {
	var env editionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return gazette.FetchResult{}, &gazette.TransportError{Date: date, StatusCode: http.StatusOK, Err: fmt.Errorf("decode edition payload: %w", err)}
	}
	if env.Data == nil || env.Data.MainNotebook == nil || env.Data.MainNotebook.File == "" {
		return gazette.FetchResult{}, &gazette.TransportError{Date: date, StatusCode: http.StatusOK, Err: errors.New("edition payload has no document")}
	}
	nb := env.Data.MainNotebook
	return gazette.FetchResult{
		Status: gazette.FetchStatusPublished,
		Document: gazette.RawDocument{
			PublicationDate: date,
			Data:            nb.File,
			DeclaredPages:   nb.TotalPages,
			SingleFile:      nb.SingleFile,
			NotebookName:    nb.Description,
		},
	}, nil
}

// isRetryable retries network failures, request timeouts and 5xx answers.
// The caller's own cancellation is handled by retry.Do.
func isRetryable(err error) bool {
	var transportErr *gazette.TransportError
	if errors.As(err, &transportErr) {
		if transportErr.StatusCode == 0 {
			return true
		}
		return transportErr.StatusCode >= http.StatusInternalServerError || transportErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

type contextTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, fmt.Errorf("upstream roundtrip: %w", err)
	}
	return resp, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
