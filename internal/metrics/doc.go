// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection counts by protocol
//   - WebSocket message rates, heartbeats, rate-limit rejections
//   - Backpressure overflow closes
//   - HTTP request counts, latencies, body sizes
//   - Client errors by kind
package metrics
