package middleware

import (
	"context"
	"time"

	"github-telegram-notifier/internal/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LoggingMiddleware adds trace IDs and structured logging to requests.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		// Make the trace ID available to gin handlers and downstream contexts.
		c.Set("trace_id", traceID)
		c.Header("X-Trace-ID", traceID)

		ctx := context.WithValue(c.Request.Context(), log.TraceIDKey, traceID)
		c.Request = c.Request.WithContext(ctx)

		startTime := time.Now()
		logger := log.WithContext(c)
		logger.Debug("Request started",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"user_agent", c.Request.UserAgent(),
			"remote_addr", c.ClientIP(),
		)

		c.Next()

		duration := time.Since(startTime)
		logger.Info("Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", duration.Seconds(),
		)
	}
}
