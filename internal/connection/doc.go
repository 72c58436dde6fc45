// Package connection implements connection identity and backpressure.
//
// The package owns:
//   - Registry: transport handle <-> connection identity, lifecycle
//     notifications fired exactly once per connection
//   - Queue: per-connection outbound backpressure with bounded buffering
//     and terminal overflow
//   - Transport: the interface the socket layer implements
//
// Lookups that miss are normal races against connection teardown, never
// errors; all paths that deliver to a connection re-check the registry at
// delivery time.
package connection
