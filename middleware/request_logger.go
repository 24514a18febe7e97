package middleware

import (
	"time"

	"crypto_dashboard/logger"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs failed and slow requests. Probes are skipped.
func RequestLogger(slow time.Duration) gin.HandlerFunc {
	log := logger.GetLogger().WithComponent("http")
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" || path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		if status < 400 && duration <= slow {
			return
		}

		entry := log.WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        path,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		if status >= 500 {
			entry.Error("Request failed")
			return
		}
		entry.Warn("Request completed")
	}
}
