// Package ratelimit implements per-connection inbound message limiting.
//
// The design separates the clock from the counters:
//   - One Clock goroutine per gateway samples wall-clock seconds at ~1Hz
//   - Each WebSocket connection holds a Counter comparing arrivals against
//     the sampled tick
//
// Limits apply to WebSocket traffic only; HTTP exchanges are naturally
// bounded by the request/response cycle.
package ratelimit
