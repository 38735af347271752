package goAbuse

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreUnavailable is returned when the shared store cannot be reached.
	ErrStoreUnavailable = errors.New("abuse limiter store unavailable")
	// ErrStoreTimeout is returned when a store call exceeds Config.Timeout or
	// the caller's deadline.
	ErrStoreTimeout = errors.New("abuse limiter store timeout")
	// ErrMalformedResponse is returned when the store answers with a reply the
	// decision script never produces.
	ErrMalformedResponse = errors.New("abuse limiter malformed store response")
	// ErrInvalidPolicy is returned when a Policy fails validation. No store
	// call is made.
	ErrInvalidPolicy = errors.New("abuse limiter invalid policy")
	// ErrInvalidScope is returned when a Scope cannot be mapped to keys.
	ErrInvalidScope = errors.New("abuse limiter invalid scope")
	// ErrLimiterNotReady is returned by methods called on a nil or unbuilt Limiter.
	ErrLimiterNotReady = errors.New("abuse limiter not initialized")
)

// ErrorKind is the failure category of a LimiterError.
type ErrorKind uint8

const (
	// KindConnectivity covers a store that could not be reached or dropped
	// the connection.
	KindConnectivity ErrorKind = iota + 1
	// KindTimeout covers a store that did not answer before the deadline.
	KindTimeout
	// KindProtocol covers replies with an unexpected shape and script errors.
	// It indicates a defect, not an outage.
	KindProtocol
	// KindConfiguration covers invalid policies, scopes and unbuilt limiters.
	KindConfiguration
)

// String returns the lower-case kind name used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Transient reports whether the failure is an availability problem that
// may clear on its own.
func (k ErrorKind) Transient() bool {
	return k == KindConnectivity || k == KindTimeout
}

// LimiterError is returned by every Limiter operation that could not
// produce a decision. It never stands in for an allow or a block.
//
// errors.Is matches both the kind sentinel (for example ErrStoreTimeout)
// and the underlying cause.
type LimiterError struct {
	Kind      ErrorKind
	Op        string
	Namespace string
	Err       error
}

func (e *LimiterError) Error() string {
	var b strings.Builder
	b.WriteString("goAbuse: ")
	b.WriteString(e.Op)
	if e.Namespace != "" {
		b.WriteString(" [")
		b.WriteString(e.Namespace)
		b.WriteByte(']')
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the kind sentinel and the cause.
func (e *LimiterError) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.sentinel(); s != nil && !errors.Is(e.Err, s) {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func (e *LimiterError) sentinel() error {
	switch e.Kind {
	case KindConnectivity:
		return ErrStoreUnavailable
	case KindTimeout:
		return ErrStoreTimeout
	case KindProtocol:
		return ErrMalformedResponse
	default:
		return nil
	}
}

func newLimiterError(kind ErrorKind, op, namespace string, err error) *LimiterError {
	return &LimiterError{Kind: kind, Op: op, Namespace: namespace, Err: err}
}

func configError(op, namespace string, sentinel, cause error) *LimiterError {
	if cause == nil {
		return newLimiterError(KindConfiguration, op, namespace, sentinel)
	}
	return newLimiterError(KindConfiguration, op, namespace, fmt.Errorf("%w: %w", sentinel, cause))
}

// KindOf returns the kind of err when it is (or wraps) a LimiterError.
func KindOf(err error) (ErrorKind, bool) {
	var lerr *LimiterError
	if errors.As(err, &lerr) {
		return lerr.Kind, true
	}
	return 0, false
}
