// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Task graph submission
//   - Record, status and result queries
//   - Worker pool status and health checks
//   - Prometheus metrics
package http
