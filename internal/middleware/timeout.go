package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/response"
)

// TimeoutMiddleware bounds the context of REST requests. It must not be
// installed on the WebSocket route.
type TimeoutMiddleware struct {
	timeout time.Duration
}

// NewTimeoutMiddleware creates a new timeout middleware
func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TimeoutMiddleware{timeout: timeout}
}

// Middleware returns a Gin middleware for timeout protection
func (tm *TimeoutMiddleware) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), tm.timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()

		c.Next()

		if ctx.Err() != context.DeadlineExceeded {
			return
		}
		logger.FromContext(ctx).Warn("Request timed out",
			zap.Duration("timeout", tm.timeout),
			zap.Duration("duration", time.Since(start)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
		)
		if !c.Writer.Written() {
			response.Error(c, http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "Request timeout")
			c.Abort()
		}
	}
}
