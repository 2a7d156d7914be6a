// Package api hosts the admin HTTP server. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a run; 409 while one is active.
//   - GET /v1/runs, /v1/runs/{run_id} and /v1/runs/latest for live progress
//     and the last RunReport.
package api
