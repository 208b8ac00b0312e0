package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mymove-wizard/internal/shared/telemetry"
)

// SessionIDKey is the context key handlers set once a wizard session is
// resolved; the request log and error log pick it up.
const SessionIDKey = "sessionId"

// Logging emits a structured log per request. Preflights are not logged.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"bytes":       c.Writer.Size(),
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"session_id":  c.GetString(SessionIDKey),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		telemetry.Info("request.complete", fields)
	}
}
