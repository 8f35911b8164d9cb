// Package api hosts the HTTP ingress. Routes:
//   - GET /healthz (and /health) pings the record store.
//   - GET /metrics for Prometheus scraping.
//   - POST /crawl/jobs validates a seed and queues it for the dispatcher.
package api
