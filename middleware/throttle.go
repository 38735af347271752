package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/google/uuid"
)

// RequestIDHeader is read for an inbound request id and echoed on the
// response. A new id is generated when it is absent.
const RequestIDHeader = "X-Request-ID"

// Throttle records one attempt per request against policy and rejects
// requests whose scope is blocked. mode decides what happens when the
// store is unreachable.
func Throttle(l *goAbuse.Limiter, policy goAbuse.Policy, scopeOf ScopeFunc, mode goAbuse.FailureMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil || scopeOf == nil {
				WriteError(w, nil)
				return
			}

			scope, err := scopeOf(r)
			if err != nil {
				writeBadRequest(w)
				return
			}

			requestID := requestID(r)
			w.Header().Set(RequestIDHeader, requestID)
			ctx := goAbuse.WithRequestID(r.Context(), requestID)
			ctx = goAbuse.WithClientIP(ctx, ClientIP(r))

			if err := l.GateWithMode(ctx, scope, policy, mode); err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteError writes the JSON payload and status for err. Errors that are
// not a *goAbuse.GateError are written as 500.
func WriteError(w http.ResponseWriter, err error) {
	gerr := asGateError(err)
	if s := gerr.RetryAfterSeconds(); s > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(s, 10))
	}
	writeJSON(w, gerr.Status, gerr.Payload())
}

func asGateError(err error) *goAbuse.GateError {
	var gerr *goAbuse.GateError
	if errors.As(err, &gerr) && gerr != nil {
		return gerr
	}
	return &goAbuse.GateError{
		Code:    goAbuse.CodeInternal,
		Status:  http.StatusInternalServerError,
		Message: "Internal server error.",
		Err:     err,
	}
}

func writeBadRequest(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, goAbuse.ErrorPayload{
		Error:   http.StatusText(http.StatusBadRequest),
		Code:    "invalid_request",
		Message: "Request is missing a required identifier.",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(RequestIDHeader)); v != "" && len(v) <= 128 {
		return v
	}
	return uuid.NewString()
}
