package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/config"
	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/id/uuid"
	"github.com/JakeFAU/gazette-watch/internal/index/elastic"
	"github.com/JakeFAU/gazette-watch/internal/metrics"
	"github.com/JakeFAU/gazette-watch/internal/pipeline"
)

// Runner is the pipeline surface the API drives.
type Runner interface {
	RunForDate(ctx context.Context, date civil.Date) (gazette.RunSummary, error)
	ReplayForWatcher(ctx context.Context, watcherID int64, date civil.Date, opts pipeline.ReplayOptions) (gazette.Report, error)
	Today() civil.Date
}

// ArchiveSearcher serves GET /v1/search.
type ArchiveSearcher interface {
	Search(ctx context.Context, params elastic.SearchParams) (*elastic.SearchResult, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

const readinessTimeout = 3 * time.Second

// Server wires HTTP handlers to the pipeline and stores.
type Server struct {
	router chi.Router
	runner Runner
	search ArchiveSearcher
	checks map[string]ReadinessCheck
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. search and
// history may be nil.
func NewServer(
	runner Runner,
	history gazette.RunHistory,
	search ArchiveSearcher,
	checks map[string]ReadinessCheck,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		search: search,
		checks: checks,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	runs := NewRunsHandler(history, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Runs and replays may ingest a whole edition; they outlive the
		// request timeout and carry their own.
		r.Post("/v1/runs", s.runForDate)
		r.Get("/v1/watchers/{watcher_id}/replay", s.replay)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout(cfg)))
			r.Get("/v1/runs", runs.ListRuns)
			r.Get("/v1/features", s.features)
			r.Get("/v1/search", s.archiveSearch)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) features(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"replay":         s.cfg.Features.ReplayEnabled,
		"archive_search": s.search != nil,
	})
}

type runRequest struct {
	Date string `json:"date"`
}

func (s *Server) runForDate(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	date, err := s.parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A dropped client must not cancel a run between watchers.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), runTimeout(s.cfg))
	defer cancel()
	summary, err := s.runner.RunForDate(ctx, date)
	if err != nil {
		s.logger.Warn("run failed", zap.Stringer("date", date), zap.Error(err))
	}
	status := http.StatusOK
	switch summary.Status {
	case gazette.RunStatusAborted:
		status = http.StatusBadGateway
	case gazette.RunStatusCanceled:
		status = http.StatusServiceUnavailable
	case "":
		writeError(w, http.StatusInternalServerError, "run did not start")
		return
	}
	writeJSON(w, status, summary)
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Features.ReplayEnabled {
		writeError(w, http.StatusNotFound, "replay disabled")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "watcher_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid watcher_id")
		return
	}
	q := r.URL.Query()
	date, err := s.parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	notify := false
	if raw := q.Get("notify"); raw != "" {
		notify, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid notify")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), runTimeout(s.cfg))
	defer cancel()
	rep, err := s.runner.ReplayForWatcher(ctx, id, date, pipeline.ReplayOptions{Dispatch: notify})
	if err != nil {
		code := gazette.Classify(err)
		s.logger.Warn("replay failed",
			zap.Int64("watcher_id", id),
			zap.Stringer("date", date),
			zap.String("code", string(code)),
			zap.Error(err),
		)
		if code == gazette.CodeDelivery {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "code": code, "report": rep})
			return
		}
		writeJSON(w, statusFor(code), map[string]any{"error": err.Error(), "code": code})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) archiveSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusNotImplemented, "archive search not configured")
		return
	}
	q := r.URL.Query()
	params := elastic.SearchParams{Query: q.Get("q")}
	var err error
	if raw := q.Get("exact"); raw != "" {
		if params.Exact, err = strconv.ParseBool(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid exact")
			return
		}
	}
	if params.From, err = intParam(q.Get("from"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	if params.Size, err = intParam(q.Get("size"), 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid size")
		return
	}
	for key, dst := range map[string]**civil.Date{"start": &params.Start, "end": &params.End} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		d, err := civil.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+key)
			return
		}
		*dst = &d
	}

	res, err := s.search.Search(r.Context(), params)
	if err != nil {
		if errors.Is(err, gazette.ErrInvalidTerm) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("archive search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "archive search failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseDate defaults to today and rejects future dates.
func (s *Server) parseDate(raw string) (civil.Date, error) {
	today := s.runner.Today()
	if strings.TrimSpace(raw) == "" {
		return today, nil
	}
	date, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, errors.New("date must be YYYY-MM-DD")
	}
	if date.After(today) {
		return civil.Date{}, gazette.ErrFutureDate
	}
	return date, nil
}

func statusFor(code gazette.Code) int {
	switch code {
	case gazette.CodeInvalid:
		return http.StatusBadRequest
	case gazette.CodeNotFound, gazette.CodeNotPublished:
		return http.StatusNotFound
	case gazette.CodeMatch:
		return http.StatusUnprocessableEntity
	case gazette.CodeTransport, gazette.CodeExtraction, gazette.CodeIndexIO, gazette.CodeDelivery:
		return http.StatusBadGateway
	case gazette.CodeCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("invalid integer")
	}
	return v, nil
}

func requestTimeout(cfg config.Config) time.Duration {
	if cfg.Server.RequestTimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return config.Seconds(cfg.Server.RequestTimeoutSeconds)
}

func runTimeout(cfg config.Config) time.Duration {
	if cfg.Server.RunTimeoutSeconds <= 0 {
		return 15 * time.Minute
	}
	return config.Seconds(cfg.Server.RunTimeoutSeconds)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.RequestID(r.Header.Get("X-Request-ID"))
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

// apiKeyMiddleware accepts X-API-Key, a bearer token, or the api_key query
// parameter.
func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
