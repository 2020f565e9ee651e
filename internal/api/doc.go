// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to start a run, DELETE /v1/crawls/{run_id} to cancel it.
//   - GET /v1/crawls/{run_id} for the latest snapshot, /stream for a live
//     server-sent event feed, and /report for the rendered markdown.
//   - GET /v1/runs and /v1/runs/{run_id}/sites for persisted run history via
//     the store.RunRepository interface.
package api
