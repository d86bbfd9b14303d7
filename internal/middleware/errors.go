package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"session-bridge/internal/apperror"
)

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler(responder *apperror.Responder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		responder.Write(c.Writer, c.Request, c.Errors.Last().Err)
	}
}

// Recovery turns panics into internal errors rendered by responder.
func Recovery(responder *apperror.Responder) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		responder.Write(c.Writer, c.Request, apperror.Internal(fmt.Errorf("panic: %v", recovered)))
		c.Abort()
	})
}
