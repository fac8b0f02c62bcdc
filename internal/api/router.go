package api

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/99minutos/portal-auth/docs"
	"github.com/99minutos/portal-auth/internal/api/handler"
	"github.com/99minutos/portal-auth/internal/api/middleware"
	"github.com/99minutos/portal-auth/internal/core/domain"
	"github.com/99minutos/portal-auth/internal/core/ports"
)

// Dependencies are the collaborators the HTTP surface is built on.
type Dependencies struct {
	State ports.AuthStateReader
	Auth  ports.Authenticator
	// Audit is optional; without it the admin routes are not registered.
	Audit  ports.AuditService
	Checks []handler.Check
	Log    zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(deps.Log))

	// --- Health checks and tooling (no auth required) ---
	healthHandler := handler.NewHealthHandler(deps.Checks...)
	e.GET("/health", healthHandler.Liveness)
	e.GET("/health/ready", healthHandler.Readiness)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// --- Auth routes ---
	authHandler := handler.NewAuthHandler(deps.State, deps.Auth, deps.Log)
	streamHandler := handler.NewStreamHandler(deps.State, deps.Log)
	requireSession := middleware.RequireSession(deps.State)

	v1 := e.Group("/v1")
	v1.GET("/auth/state", authHandler.State)
	v1.GET("/auth/state/ws", streamHandler.Stream)
	v1.POST("/auth/signin", authHandler.SignIn)
	v1.POST("/auth/signout", authHandler.SignOut)
	v1.POST("/auth/refresh", authHandler.Refresh)
	v1.GET("/me", authHandler.Me, requireSession)

	if deps.Audit != nil {
		auditHandler := handler.NewAuditHandler(deps.Audit)
		admin := v1.Group("/admin", requireSession, middleware.RBAC(domain.RoleAdmin))
		admin.GET("/audit", auditHandler.List)
	}

	return e
}

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
