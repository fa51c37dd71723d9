// Package api hosts the crawl status HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/crawl for the lifecycle snapshot.
//   - GET /v1/crawl/history for the ordered state transitions.
//   - GET /v1/crawl/failures for the failure documents accumulated so far.
package api
