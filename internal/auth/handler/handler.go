package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"session-bridge/internal/auth"
	"session-bridge/internal/identity"
	"session-bridge/internal/logger"
	"session-bridge/internal/middleware"
	"session-bridge/internal/session"
)

type Handler struct {
	idp     identity.Provider
	issuer  *auth.Issuer
	store   session.Store
	cookies session.CookieOptions
}

func NewHandler(
	idp identity.Provider,
	issuer *auth.Issuer,
	store session.Store,
	cookies session.CookieOptions,
) *Handler {
	return &Handler{
		idp:     idp,
		issuer:  issuer,
		store:   store,
		cookies: cookies,
	}
}

// RegisterRoutes mounts the auth API. Login, registration and session
// initialization are public; everything else needs a live session.
func (h *Handler) RegisterRoutes(r gin.IRouter, authMW *middleware.AuthMiddleware) {
	g := r.Group("/auth")

	g.POST("/login", h.Login)
	g.POST("/register", h.Register)
	g.POST("/initialize-session", h.InitializeSession)

	protected := g.Group("")
	protected.Use(middleware.GinRequireRoles(authMW, auth.RoleAny))

	protected.POST("/logout", h.Logout)
	protected.GET("/check-session", h.CheckSession)
	protected.GET("/get-user", h.GetUser)
	protected.POST("/change-password", h.ChangePassword)

	if e, ok := r.(*gin.Engine); ok {
		for _, route := range e.Routes() {
			logger.Debug("route registered", map[string]any{
				"method": route.Method,
				"path":   route.Path,
			})
		}
	}
}

func success(c *gin.Context, status int, message string, data any) {
	body := gin.H{
		"status":  "success",
		"message": message,
	}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// currentSession returns the session attached by the auth middleware.
func currentSession(c *gin.Context) *auth.AuthorizedSession {
	s, _ := auth.SessionFromContext(c.Request.Context())
	return s
}

// issue stores an opaque session for idSess and hands the token out as
// both cookie and response body.
func (h *Handler) issue(c *gin.Context, idSess *identity.Session, message string) bool {
	issued, err := h.issuer.Issue(c.Request.Context(), idSess)
	if err != nil {
		_ = c.Error(err)
		return false
	}

	session.SetCookie(c.Writer, issued.Token, issued.ExpiresAt, h.cookies)
	success(c, http.StatusOK, message, gin.H{
		session.HeaderName: issued.Token,
	})
	return true
}
