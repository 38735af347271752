package test

import (
	"context"
	"net/http"
	"testing"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/MrEthical07/goAbuse/middleware"
	"github.com/gin-gonic/gin"
)

// This test intentionally guards public API compile-compat for consumers.
func TestPublicAPISurfaceCompile(t *testing.T) {
	_ = goAbuse.New

	var _ *goAbuse.Limiter
	var _ goAbuse.Config
	var _ goAbuse.Policy
	var _ goAbuse.Decision
	var _ goAbuse.Inspection
	var _ goAbuse.Store
	var _ goAbuse.AuditSink
	var _ *goAbuse.LimiterError
	var _ *goAbuse.GateError

	var _ error = goAbuse.ErrStoreUnavailable
	var _ error = goAbuse.ErrStoreTimeout
	var _ error = goAbuse.ErrMalformedResponse
	var _ error = goAbuse.ErrInvalidPolicy
	var _ error = goAbuse.ErrInvalidScope
	var _ error = goAbuse.ErrLimiterNotReady

	var _ func() goAbuse.Policy = goAbuse.PasswordResetPolicy
	var _ func() goAbuse.Policy = goAbuse.EmailVerificationPolicy
	var _ func() goAbuse.Policy = goAbuse.NewsletterSubscribePolicy

	var _ func(*goAbuse.Limiter, goAbuse.Policy, middleware.ScopeFunc, goAbuse.FailureMode) func(http.Handler) http.Handler = middleware.Throttle
	var _ func(*goAbuse.Limiter, goAbuse.Policy, middleware.ScopeFunc, goAbuse.FailureMode) gin.HandlerFunc = middleware.GinThrottle

	var _ func(*goAbuse.Limiter, context.Context, goAbuse.Scope, goAbuse.Policy) (goAbuse.Decision, error) = (*goAbuse.Limiter).Check
	var _ func(*goAbuse.Limiter, context.Context, goAbuse.Scope, goAbuse.Policy) error = (*goAbuse.Limiter).Gate
	var _ func(*goAbuse.Limiter, context.Context, goAbuse.Scope, goAbuse.Policy, goAbuse.FailureMode) error = (*goAbuse.Limiter).GateWithMode
	var _ func(*goAbuse.Limiter, context.Context, goAbuse.Scope, goAbuse.Policy) (goAbuse.Inspection, error) = (*goAbuse.Limiter).Inspect
}
