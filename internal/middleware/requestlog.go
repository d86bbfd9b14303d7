package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"session-bridge/internal/apperror"
	"session-bridge/internal/auth"
	"session-bridge/internal/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestLog assigns a request id, resolves the client address for error
// records and logs one line per request, including the session user when one
// was attached.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		clientIP := c.ClientIP()
		c.Request = c.Request.WithContext(apperror.WithClientIP(c.Request.Context(), clientIP))

		c.Next()

		fields := map[string]any{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         clientIP,
		}
		if s, ok := auth.SessionFromContext(c.Request.Context()); ok {
			fields["user_id"] = s.User.ID
			fields["role"] = string(s.Role)
		}

		logger.Info("request", fields)
	}
}
