// Package metric provides Prometheus metrics for mesh2gram.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: registry, relay counters, and the HTTP handler
//   - collector.go: live gauges sampled from the running gateway
//
// Metrics include:
//
//   - Relay counters per direction
//   - Reconnect and pairing counters
//   - Connection state and session count gauges
//   - Pair store size statistics
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
