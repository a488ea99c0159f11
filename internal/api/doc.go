// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access while a run is in progress. Notable routes:
//   - GET /healthz / readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live counts of the current run.
//   - GET /v1/runs, /v1/runs/{id} and /v1/runs/{id}/entries for run history
//     via the RunRepository interface.
package api
