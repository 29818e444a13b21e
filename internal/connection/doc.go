// Package connection implements the resilient stream client.
//
// The Manager:
//   - Owns the single WebSocket transport and its lifecycle state machine
//   - Queues outbound frames while disconnected and flushes them FIFO on open
//   - Re-announces the full subscription set on every (re)connection
//   - Probes liveness with application-level ping/pong heartbeats
//   - Reconnects with jittered exponential backoff up to an attempt ceiling
//
// All state transitions run on a single event loop goroutine; public methods
// post events and never touch shared state directly.
package connection
