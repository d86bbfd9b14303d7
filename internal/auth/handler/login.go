package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"session-bridge/internal/apperror"
	"session-bridge/internal/identity"
	"session-bridge/internal/metrics"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates with the identity provider and issues an opaque
// session wrapping the provider session.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(invalid(err))
		return
	}

	idSess, err := h.idp.PasswordLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("password", "rejected").Inc()
		_ = c.Error(loginError(err))
		return
	}

	if !h.issue(c, idSess, "Logged in successfully.") {
		metrics.LoginsTotal.WithLabelValues("password", "failed").Inc()
		return
	}
	metrics.LoginsTotal.WithLabelValues("password", "succeeded").Inc()
}

type initializeRequest struct {
	AccessToken  string `json:"access_token" binding:"required"`
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// InitializeSession wraps a provider session the client obtained elsewhere
// (e.g. an email confirmation link) in an opaque session.
func (h *Handler) InitializeSession(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(invalid(err))
		return
	}

	idSess, err := h.idp.EstablishSession(c.Request.Context(), req.AccessToken, req.RefreshToken)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("initialize", "rejected").Inc()
		if errors.Is(err, identity.ErrSessionRejected) {
			_ = c.Error(apperror.New(apperror.CodeIncompleteSession, apperror.KindAuthentication, err))
			return
		}
		_ = c.Error(apperror.Upstream(err))
		return
	}

	if !h.issue(c, idSess, "Session initialized.") {
		metrics.LoginsTotal.WithLabelValues("initialize", "failed").Inc()
		return
	}
	metrics.LoginsTotal.WithLabelValues("initialize", "succeeded").Inc()
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// Register creates an unconfirmed account on backends that support it.
// No session is issued; the user logs in after confirming.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(invalid(err))
		return
	}

	registrar, ok := h.idp.(identity.Registrar)
	if !ok {
		_ = c.Error(unsupported(identity.ErrUnsupported))
		return
	}

	if err := registrar.SignUp(c.Request.Context(), req.Email, req.Password); err != nil {
		switch {
		case errors.Is(err, identity.ErrEmailTaken):
			_ = c.Error(apperror.New(apperror.CodeEmailTaken, apperror.KindValidation, err))
		case errors.Is(err, identity.ErrUnsupported):
			_ = c.Error(unsupported(err))
		default:
			_ = c.Error(apperror.Upstream(err))
		}
		return
	}

	success(c, http.StatusCreated, "Account created. Please confirm your email address.", nil)
}

func loginError(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return apperror.New(apperror.CodeInvalidCredentials, apperror.KindAuthentication, err)
	case errors.Is(err, identity.ErrEmailNotConfirmed):
		return apperror.New(apperror.CodeEmailNotConfirmed, apperror.KindAuthentication, err)
	default:
		return apperror.Upstream(err)
	}
}

func invalid(err error) error {
	return apperror.Invalid(err).WithData(gin.H{"reason": err.Error()})
}

func unsupported(err error) error {
	return apperror.New(apperror.CodeUnsupportedByIdP, apperror.KindUpstream, err)
}
