package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"

	goAbuse "github.com/MrEthical07/goAbuse"
)

// ErrNoSubject is returned by a ScopeFunc when the request carries nothing
// to limit on. The middleware answers 400.
var ErrNoSubject = errors.New("middleware: request has no limiter subject")

// ScopeFunc derives the limiter scope for a request.
type ScopeFunc func(r *http.Request) (goAbuse.Scope, error)

// ByClientIP scopes requests by the connecting address.
func ByClientIP(namespace string) ScopeFunc {
	return func(r *http.Request) (goAbuse.Scope, error) {
		ip := ClientIP(r)
		if ip == "" {
			return goAbuse.Scope{}, ErrNoSubject
		}
		return goAbuse.NewScope(namespace, ip), nil
	}
}

// ByHeader scopes requests by a hashed header value, for example an API key
// or account identifier.
func ByHeader(namespace, header string) ScopeFunc {
	return func(r *http.Request) (goAbuse.Scope, error) {
		v := strings.TrimSpace(r.Header.Get(header))
		if v == "" {
			return goAbuse.Scope{}, ErrNoSubject
		}
		return goAbuse.HashedScope(namespace, v), nil
	}
}

// ByFormValue scopes requests by a hashed form or query field such as an
// e-mail address.
func ByFormValue(namespace, field string) ScopeFunc {
	return func(r *http.Request) (goAbuse.Scope, error) {
		v := strings.TrimSpace(r.FormValue(field))
		if v == "" {
			return goAbuse.Scope{}, ErrNoSubject
		}
		return goAbuse.HashedScope(namespace, v), nil
	}
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// ignored; put a trusted proxy in front that rewrites RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
