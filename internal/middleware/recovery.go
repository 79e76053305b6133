package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"emphealth-backend/pkg/logger"
	"emphealth-backend/pkg/response"
)

// Recovery recovers from panics and returns 500 error
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.FromContext(c.Request.Context()).Error("Panic recovered",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()))

				response.InternalError(c, "Internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HealthProbe checks one dependency
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthCheck answers /health. The status is "degraded" when any probe
// fails; the response code is 200 either way.
func HealthCheck(serviceName string, probes ...HealthProbe) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path != "/health" {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := "healthy"
		components := make(map[string]string, len(probes))
		for _, p := range probes {
			if err := p.Check(ctx); err != nil {
				components[p.Name] = err.Error()
				status = "degraded"
				continue
			}
			components[p.Name] = "ok"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":     status,
			"service":    serviceName,
			"components": components,
		})
		c.Abort()
	}
}
