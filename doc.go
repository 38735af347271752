// Package goAbuse is a distributed abuse limiter for repeated, sensitive
// actions: password reset requests, verification code resends, login
// attempts, newsletter sign-ups.
//
// Every attempt is recorded in a shared Redis instance and judged against
// two thresholds at once: a short burst window and a long sustained window.
// Crossing either sets a block whose remaining lifetime is the TTL of a
// single key. Recording, counting and blocking happen in one server-side
// script, so concurrent callers on any number of instances see exact
// counts and at most one block per scope, with no locks and no reliance on
// instance clocks.
//
// # Architecture boundaries
//
// goAbuse is the public surface. It exposes [Limiter], [Builder], [Config],
// [Policy] and value types ([Scope], [Decision], [GateError]). Key layout,
// the decision script, store error classification, audit dispatch and
// clock handling live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Turn a store failure into an allow or a block. Failures are errors;
//     only [Limiter.GateWithMode] with [FailOpen] lets a call site opt in to
//     proceeding through an outage.
//   - Delete or shorten a block. Expiry is the only way out.
//   - Read the local wall clock for any decision.
//   - Retry store calls internally.
//
// # Performance contract
//
// Check is one store round trip. Nothing is cached in process.
package goAbuse
