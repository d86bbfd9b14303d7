package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"session-bridge/internal/apperror"
	"session-bridge/internal/auth"
	"session-bridge/internal/auth/handler"
	"session-bridge/internal/config"
	"session-bridge/internal/errorlog"
	"session-bridge/internal/identity"
	"session-bridge/internal/logger"
	"session-bridge/internal/middleware"
	"session-bridge/internal/session"
)

// pinger reports whether a dependency is reachable.
type pinger func(ctx context.Context) error

type routerDeps struct {
	cfg       config.Config
	idp       identity.Provider
	store     session.Store
	recorder  apperror.Recorder
	readiness map[string]pinger
}

func setupHTTP(ctx context.Context, cfg config.Config) (*gin.Engine, func() error, error) {
	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	idp, err := setupIdentity(ctx, cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}

	deps := routerDeps{
		cfg:   cfg,
		idp:   idp,
		store: session.NewRedisStore(infra.Redis.Client, cfg.RedisKeyPrefix),
		readiness: map[string]pinger{
			"redis": func(ctx context.Context) error { return infra.Redis.Ping(ctx).Err() },
		},
	}
	if infra.DB != nil {
		deps.recorder = errorlog.NewRecorder(infra.DB)
		deps.readiness["database"] = infra.DB.PingContext
	}

	return newRouter(deps), infra.Close, nil
}

func newRouter(deps routerDeps) *gin.Engine {
	if !deps.cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	responder := &apperror.Responder{
		Development: deps.cfg.Development(),
		Recorder:    deps.recorder,
	}

	issuer := auth.NewIssuer(deps.store, deps.cfg.SessionCeiling)
	bridge := auth.NewBridge(deps.store, deps.idp, auth.ParseRole(deps.cfg.DefaultRole, auth.RoleUser))
	validator := auth.NewValidator(bridge)
	authMiddleware := middleware.NewAuthMiddleware(validator, responder)

	authHandler := handler.NewHandler(deps.idp, issuer, deps.store, session.CookieOptions{
		Path:     "/",
		Secure:   deps.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	if err := router.SetTrustedProxies(deps.cfg.TrustedProxies); err != nil {
		logger.Error("invalid trusted proxies, trusting none", map[string]any{
			"error": err.Error(),
		})
		_ = router.SetTrustedProxies(nil)
	}
	if deps.cfg.TrustCloudflare {
		router.TrustedPlatform = gin.PlatformCloudflare
	}
	router.Use(
		middleware.RequestLog(),
		middleware.Recovery(responder),
		middleware.ErrorHandler(responder),
	)

	// ----------------------------
	// Routes
	// ----------------------------

	authHandler.RegisterRoutes(router, authMiddleware)

	router.GET("/health", health(deps.readiness))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func health(checks map[string]pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := gin.H{}
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "down"
				continue
			}
			results[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
