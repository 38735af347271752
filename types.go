package goAbuse

import (
	"time"

	"github.com/MrEthical07/goAbuse/internal/keyspace"
)

// Scope identifies the subject of a limit: a fixed, code-supplied
// namespace (the protected action) and a per-caller subject (IP, user id,
// hashed e-mail).
type Scope struct {
	Namespace string
	Subject   string
}

// NewScope returns a Scope for namespace and subject as given. The subject
// must already be key-safe; see HashedScope for free-form input.
func NewScope(namespace, subject string) Scope {
	return Scope{Namespace: namespace, Subject: subject}
}

// HashedScope returns a Scope whose subject is a digest of the normalized
// raw identifier. Use it for e-mail addresses and other user-typed values.
func HashedScope(namespace, raw string) Scope {
	return Scope{Namespace: namespace, Subject: keyspace.HashSubject(raw)}
}

// String returns "namespace:subject".
func (s Scope) String() string {
	return s.Namespace + ":" + s.Subject
}

// Validate reports whether s can be mapped to store keys.
func (s Scope) Validate() error {
	if err := keyspace.ValidateNamespace(s.Namespace); err != nil {
		return err
	}
	return keyspace.ValidateSubject(s.Subject)
}

// Tier identifies which threshold produced a block.
type Tier uint8

const (
	// TierNone is reported for allowed attempts.
	TierNone Tier = iota
	// TierShort is the burst tier: few attempts in a short window.
	TierShort
	// TierLong is the sustained tier: more attempts over a long window.
	TierLong
)

func (t Tier) String() string {
	switch t {
	case TierShort:
		return "short"
	case TierLong:
		return "long"
	default:
		return "none"
	}
}

// Decision is the outcome of one recorded attempt.
//
// RetryAfter is the remaining lifetime of the block flag as reported by the
// store, so every caller blocked by the same flag sees a consistent value.
// A flag set without expiry outside the limiter blocks until it is removed.
// RetryAfter is then zero and Gate advertises one second. Check logs a
// warning naming the key.
type Decision struct {
	Allowed    bool
	Tier       Tier
	RetryAfter time.Duration
	ShortCount int64
	LongCount  int64
}

// Blocked reports whether the attempt was rejected by a tier. The zero
// Decision returned alongside an error is neither allowed nor blocked.
func (d Decision) Blocked() bool {
	return !d.Allowed && d.Tier != TierNone
}

// Inspection is a read-only view of a scope's state.
//
// It is for dashboards and support tooling. Making an allow/deny choice
// from an Inspection races with concurrent attempts; use Check.
type Inspection struct {
	Scope      Scope
	At         time.Time
	ShortCount int64
	LongCount  int64
	Sequence   int64
	Blocked    bool
	Tier       Tier
	RetryAfter time.Duration
}
