// Package audit delivers limiter events to a caller-supplied sink off the
// request path.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//     Block events of one scope and tier are merged while one is buffered.
//   - [Event]: block or degradation record with scope namespace, tier and counts.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the Limiter does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on limiter state.
//   - Import goAbuse or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
