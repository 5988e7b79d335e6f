// Package metrics exposes Prometheus collectors for the gazette pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal                  *prometheus.CounterVec
	pagesIndexedTotal          prometheus.Counter
	stageDurationSeconds       *prometheus.HistogramVec
	watcherOutcomesTotal       *prometheus.CounterVec
	highlightsTotal            prometheus.Counter
	upstreamFetchesTotal       *prometheus.CounterVec
	upstreamBytesTotal         prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_runs_total",
				Help: "Total number of pipeline runs, labeled by trigger and status.",
			},
			[]string{"trigger", "status"},
		)

		pagesIndexedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gazette_pages_indexed_total",
				Help: "Total number of pages written to the document index.",
			},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gazette_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage and outcome.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage", "outcome"},
		)

		watcherOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_watcher_outcomes_total",
				Help: "Total per-watcher outcomes, labeled by stage and result code.",
			},
			[]string{"stage", "code"},
		)

		highlightsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gazette_highlights_total",
				Help: "Total number of highlights produced across all reports.",
			},
		)

		upstreamFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gazette_upstream_fetches_total",
				Help: "Total number of upstream edition lookups, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		upstreamBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gazette_upstream_bytes_total",
				Help: "Total number of bytes received from the upstream service.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gazette_active_workers",
				Help: "Number of workers currently processing a watcher.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gazette_rate_limit_delays_seconds",
				Help:    "Histogram of upstream rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun counts a finished run.
func ObserveRun(trigger, status string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(trigger, status).Inc()
}

// ObservePagesIndexed adds n pages to the indexed counter.
func ObservePagesIndexed(n int) {
	if pagesIndexedTotal == nil || n <= 0 {
		return
	}
	pagesIndexedTotal.Add(float64(n))
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage, outcome string, duration time.Duration) {
	if stageDurationSeconds == nil {
		return
	}
	stageDurationSeconds.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// ObserveWatcher counts a per-watcher outcome. code is "ok" on success.
func ObserveWatcher(stage, code string) {
	if watcherOutcomesTotal == nil {
		return
	}
	watcherOutcomesTotal.WithLabelValues(stage, code).Inc()
}

// ObserveHighlights adds n highlights to the running total.
func ObserveHighlights(n int) {
	if highlightsTotal == nil || n <= 0 {
		return
	}
	highlightsTotal.Add(float64(n))
}

// ObserveFetch records an upstream lookup.
func ObserveFetch(site, outcome string, bytesFetched int) {
	if upstreamFetchesTotal == nil {
		return
	}
	upstreamFetchesTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
	if bytesFetched > 0 {
		upstreamBytesTotal.Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	if rateLimitDelaysSeconds == nil {
		return
	}
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
