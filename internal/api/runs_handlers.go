package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
	historyTimeout  = 3 * time.Second
)

// RunsHandler exposes read-only run history.
type RunsHandler struct {
	history gazette.RunHistory
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunsHandler wires the history store and logger.
func NewRunsHandler(history gazette.RunHistory, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{history: history, timeout: historyTimeout, logger: logger}
}

// ListRuns handles GET /v1/runs?limit=. It returns {"runs": [...]} newest
// first, 400 for an invalid limit, 503 when no history is configured, or 500
// if the store fails.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.history.Recent(ctx, limit)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []gazette.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
