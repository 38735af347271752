// Package security reports what a goAbuse policy lets a caller do: the
// attempts each tier admits, the sustained daily ceiling, and warnings for
// tier layouts where one tier shadows the other.
//
// # What this package must NOT do
//
//   - Touch Redis or any limiter state.
//   - Reject policies. Validation belongs to goAbuse.Policy.Validate.
package security
