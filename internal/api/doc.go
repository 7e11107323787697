// Package api hosts the HTTP server, middleware, and REST handlers for
// inspection access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/v1/inspect and /api/v1/generate-dockerfile for submission.
//   - GET /api/v1/inspect/{inspection_id}/... for status, logs and the
//     stored specification.
package api
