// Package api hosts the HTTP server, middleware, and REST handlers for managing
// tracked items. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/items for adding, listing and deleting items and setting alarms.
package api
