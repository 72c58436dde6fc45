// Package gateway is the dual-protocol entry point core.
//
// An EntryPoint terminates both WebSocket sessions and single-shot HTTP
// exchanges over one connection registry, frames application messages
// (room-tagged JSON), applies per-connection backpressure and inbound rate
// limits, and drives the execution collaborator. Delivery paths re-validate
// the target connection at delivery time, so results racing a close are
// dropped silently.
package gateway
