package monitor

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kingrea/cortex/internal/metrics"
	"github.com/rs/zerolog"
)

func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

func RequestMetrics(collectors *metrics.Collectors) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		collectors.RecordHTTPRequest(c.Request.Method, routePath(c), c.Writer.Status())
	}
}

// routePath prefers the matched route pattern to keep label cardinality low.
func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
