// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Readings delivered per feed and channel
//   - Channel errors per feed, channel and kind
//   - Latest numeric value and update time per feed
//
// Server exposes the registry together with a /health endpoint.
package metrics
