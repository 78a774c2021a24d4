// Package observability provides structured logging and metrics for the
// Auth0 gateway.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT settings
//   - Prometheus collectors for signing key refreshes and authentication outcomes
package observability
