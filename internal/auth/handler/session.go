package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"session-bridge/internal/apperror"
	"session-bridge/internal/logger"
	"session-bridge/internal/session"
)

// Logout deletes the opaque session and clears the cookie. The provider
// session is left to expire on its own.
func (h *Handler) Logout(c *gin.Context) {
	s := currentSession(c)

	if err := h.store.Delete(c.Request.Context(), s.Token); err != nil {
		_ = c.Error(apperror.Internal(err))
		return
	}

	session.ClearCookie(c.Writer, h.cookies)

	logger.Info("logout", map[string]any{
		"user_id": s.User.ID,
		"ip":      c.ClientIP(),
	})

	success(c, http.StatusOK, "Logged out successfully.", nil)
}

// CheckSession reports the role of a live session. Invalid sessions never
// reach this handler.
func (h *Handler) CheckSession(c *gin.Context) {
	s := currentSession(c)

	success(c, http.StatusOK, "Session is valid.", gin.H{
		"isValid":   true,
		"role":      s.Role,
		"expiresAt": s.ExpiresAt.UnixMilli(),
	})
}

// GetUser returns the profile of the session user.
func (h *Handler) GetUser(c *gin.Context) {
	s := currentSession(c)

	success(c, http.StatusOK, "User retrieved.", gin.H{
		"id":            s.User.ID,
		"email":         s.User.Email,
		"user_metadata": s.User.UserMetadata,
		"role":          s.Role,
	})
}
