// Package middleware adapts goAbuse.Limiter to HTTP handlers.
//
// # Adapters
//
//   - [Throttle] wraps a net/http handler.
//   - [GinThrottle] is the gin equivalent.
//
// Both derive a scope with a [ScopeFunc], call Limiter.GateWithMode, and
// write 429 (with Retry-After), 503 or 500 using the GateError payload.
// Request id and client IP are attached to the request context for log and
// audit correlation.
//
// # What this package must NOT do
//
//   - Count attempts itself. Every decision comes from the limiter.
//   - Trust forwarding headers for the client IP in [ClientIP].
//   - Choose a failure mode implicitly. Callers pass FailClosed or FailOpen.
package middleware
