package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"session-bridge/internal/auth"
)

// GinRequireRoles adapts the net/http RequireRoles middleware to Gin.
func GinRequireRoles(a *AuthMiddleware, roles ...auth.Role) gin.HandlerFunc {
	mw := a.RequireRoles(roles...)

	return func(c *gin.Context) {
		// Bridge handler to allow net/http middleware execution
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			c.Next()
		})

		mw(next).ServeHTTP(c.Writer, c.Request)

		// If auth middleware already handled the response, stop Gin chain
		if c.Writer.Written() {
			c.Abort()
		}
	}
}
