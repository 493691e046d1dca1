// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Job submission, batch submission and result retrieval
//   - Pool statistics and instance management
//   - Health checks
//   - Prometheus metrics
package http
