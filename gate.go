package goAbuse

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goAbuse/internal/logger"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// FailureMode is a call site's explicit answer to "what happens when the
// limiter cannot decide".
type FailureMode uint8

const (
	// FailClosed rejects the action when the store cannot be reached.
	FailClosed FailureMode = iota
	// FailOpen lets the action through when the store cannot be reached or
	// times out. Protocol and configuration defects are never failed open.
	FailOpen
)

func (m FailureMode) String() string {
	if m == FailOpen {
		return "fail_open"
	}
	return "fail_closed"
}

// Caller-facing error codes.
const (
	CodeTooManyAttempts    = "too_many_attempts"
	CodeServiceUnavailable = "service_unavailable"
	CodeInternal           = "internal_error"
)

// GateError is the caller-facing rejection produced by Gate. It carries
// everything an HTTP layer needs: status, stable code, message and
// retry-after.
type GateError struct {
	Code       string
	Status     int
	Message    string
	RetryAfter time.Duration
	Tier       Tier
	// Err is the LimiterError behind a 503 or 500. Nil for blocks.
	Err error
}

func (e *GateError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at
// least 1 for blocks and 0 otherwise.
func (e *GateError) RetryAfterSeconds() int64 {
	if e == nil || e.Code != CodeTooManyAttempts {
		return 0
	}
	if s := retryAfterSeconds(e.RetryAfter); s > 0 {
		return s
	}
	return 1
}

// ErrorPayload is the JSON body written for a GateError.
type ErrorPayload struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// Payload returns the JSON body for e.
func (e *GateError) Payload() ErrorPayload {
	return ErrorPayload{
		Error:      http.StatusText(e.Status),
		Code:       e.Code,
		Message:    e.Message,
		RetryAfter: e.RetryAfterSeconds(),
	}
}

// MarshalJSON renders e as its Payload.
func (e *GateError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Payload())
}

// Gate is Check for call sites that only need "proceed or reject". It
// returns nil when the attempt is allowed and a *GateError otherwise. Store
// failures reject (FailClosed).
func (l *Limiter) Gate(ctx context.Context, scope Scope, policy Policy) error {
	return l.GateWithMode(ctx, scope, policy, FailClosed)
}

// GateWithMode is Gate with an explicit failure mode.
func (l *Limiter) GateWithMode(ctx context.Context, scope Scope, policy Policy, mode FailureMode) error {
	d, err := l.Check(ctx, scope, policy)
	if err != nil {
		kind, _ := KindOf(err)
		if mode == FailOpen && kind.Transient() {
			l.degraded(ctx, scope, err)
			return nil
		}
		return gateErrorFromFailure(err, kind)
	}
	if d.Allowed {
		return nil
	}
	return gateErrorFromDecision(d)
}

func (l *Limiter) degraded(ctx context.Context, scope Scope, err error) {
	if l == nil {
		return
	}
	l.metrics.Inc(MetricFailOpen)
	l.logger.Warn("limiter failed open",
		zap.String("namespace", scope.Namespace),
		zap.String("subject", logger.MaskSubject(scope.Subject)),
		zap.String("request_id", RequestIDFromContext(ctx)),
		zap.Error(err),
	)
	l.emitDegraded(ctx, scope, err)
}

func gateErrorFromDecision(d Decision) *GateError {
	return &GateError{
		Code:       CodeTooManyAttempts,
		Status:     http.StatusTooManyRequests,
		Message:    blockedMessage(d),
		RetryAfter: d.RetryAfter,
		Tier:       d.Tier,
	}
}

func gateErrorFromFailure(err error, kind ErrorKind) *GateError {
	if kind.Transient() {
		return &GateError{
			Code:    CodeServiceUnavailable,
			Status:  http.StatusServiceUnavailable,
			Message: "Service temporarily unavailable, please try again later.",
			Err:     err,
		}
	}
	return &GateError{
		Code:    CodeInternal,
		Status:  http.StatusInternalServerError,
		Message: "Internal server error.",
		Err:     err,
	}
}

func blockedMessage(d Decision) string {
	return "Too many attempts. Please try again in " + humanDuration(d.RetryAfter) + "."
}

// humanDuration renders d the way go-humanize renders relative times,
// without the trailing label: "5 minutes", "1 hour", "1 day".
func humanDuration(d time.Duration) string {
	if d < time.Second {
		return "a moment"
	}
	base := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(base, base.Add(d), "", ""))
}

func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
