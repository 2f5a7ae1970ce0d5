// Package api hosts the HTTP server, middleware, and REST handlers for the
// line engine. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes; readyz loads the reference
//     tables.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/lines/count probes every matching node without splitting.
//   - POST /v1/lines retrieves transitions, optionally relocating payloads.
package api
