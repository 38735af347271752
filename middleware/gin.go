package middleware

import (
	"net/http"
	"strconv"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/gin-gonic/gin"
)

// GinThrottle is Throttle for gin routers. The client IP stored on the
// context comes from gin's ClientIP, which honours the engine's trusted
// proxy settings.
func GinThrottle(l *goAbuse.Limiter, policy goAbuse.Policy, scopeOf ScopeFunc, mode goAbuse.FailureMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || scopeOf == nil {
			abortWithGateError(c, asGateError(nil))
			return
		}

		scope, err := scopeOf(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, goAbuse.ErrorPayload{
				Error:   http.StatusText(http.StatusBadRequest),
				Code:    "invalid_request",
				Message: "Request is missing a required identifier.",
			})
			return
		}

		requestID := requestID(c.Request)
		c.Header(RequestIDHeader, requestID)
		ctx := goAbuse.WithRequestID(c.Request.Context(), requestID)
		ctx = goAbuse.WithClientIP(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		if err := l.GateWithMode(ctx, scope, policy, mode); err != nil {
			abortWithGateError(c, asGateError(err))
			return
		}

		c.Next()
	}
}

func abortWithGateError(c *gin.Context, gerr *goAbuse.GateError) {
	if s := gerr.RetryAfterSeconds(); s > 0 {
		c.Header("Retry-After", strconv.FormatInt(s, 10))
	}
	c.AbortWithStatusJSON(gerr.Status, gerr.Payload())
}
