// Package middleware holds the chi middleware shared by licensegate's HTTP
// servers: request ids, structured request logs, per-client rate limits,
// OpenTelemetry instrumentation, JSON request validation and the license gate.
package middleware
