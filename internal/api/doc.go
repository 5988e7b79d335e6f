// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to run the pipeline for a date, GET /v1/runs for history.
//   - GET /v1/watchers/{id}/replay to re-match one watcher against a date.
//   - GET /v1/search for the cross-date archive search, when configured.
package api
