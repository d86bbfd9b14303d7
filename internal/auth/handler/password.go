package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"session-bridge/internal/apperror"
	"session-bridge/internal/identity"
)

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,nefield=OldPassword"`
}

// ChangePassword re-authenticates with the old password and updates it
// with the fresh provider session. The opaque session is kept.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(invalid(err))
		return
	}

	updater, ok := h.idp.(identity.PasswordUpdater)
	if !ok {
		_ = c.Error(unsupported(identity.ErrUnsupported))
		return
	}

	s := currentSession(c)
	ctx := c.Request.Context()

	fresh, err := h.idp.PasswordLogin(ctx, s.User.Email, req.OldPassword)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			_ = c.Error(apperror.New(apperror.CodeWrongPassword, apperror.KindValidation, err))
			return
		}
		_ = c.Error(apperror.Upstream(err))
		return
	}

	if err := updater.UpdatePassword(ctx, fresh.AccessToken, req.NewPassword); err != nil {
		if errors.Is(err, identity.ErrUnsupported) {
			_ = c.Error(unsupported(err))
			return
		}
		_ = c.Error(apperror.Upstream(err))
		return
	}

	success(c, http.StatusOK, "Password changed successfully.", nil)
}
