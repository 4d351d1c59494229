package router

import (
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/devops-dashboard/internal/config"
	"github.com/iliyamo/devops-dashboard/internal/handler"
	"github.com/iliyamo/devops-dashboard/internal/middleware"
	"github.com/iliyamo/devops-dashboard/internal/model"
	"github.com/iliyamo/devops-dashboard/internal/ratelimit"
	"github.com/iliyamo/devops-dashboard/internal/service"
	"github.com/iliyamo/devops-dashboard/internal/utils"
)

// Deps is everything the routes need.
type Deps struct {
	Tokens      *utils.TokenService
	Revocations *service.RevocationStore
	Auth        *service.AuthService
	Vault       *service.Vault
	Limiter     ratelimit.Checker
	RateLimit   config.RateLimitConfig
	Health      *handler.HealthHandler
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
}

// RegisterAuth registers the auth routes. Register, login and refresh live
// under /v1/auth behind the rate limiter; the rest need a session token.
func RegisterAuth(e *echo.Echo, d Deps) {
	a := handler.NewAuthHandler(d.Auth)

	g := e.Group("/v1/auth", middleware.RateLimit(d.Limiter, d.RateLimit))
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)

	access := middleware.Access(d.Tokens, d.Revocations)
	e.POST("/v1/auth/logout", a.Logout, access)
	e.GET("/v1/me", a.Me, access)
}

// RegisterAdmin registers the account administration routes. The caller's
// role is read from the store on every request.
func RegisterAdmin(e *echo.Echo, d Deps) {
	h := handler.NewAdminHandler(d.Auth)
	g := e.Group("/v1/admin",
		middleware.Access(d.Tokens, d.Revocations),
		middleware.RequireRole(d.Auth, model.RoleAdmin),
	)
	g.GET("/accounts", h.ListAccounts)
	g.PUT("/accounts/:id/role", h.SetRole)
	g.POST("/accounts/:id/deactivate", h.Deactivate)
}

// RegisterCredentials registers the vault routes and the service-scoped
// routes that need an active credential.
func RegisterCredentials(e *echo.Echo, d Deps) {
	h := handler.NewCredentialHandler(d.Vault)
	access := middleware.Access(d.Tokens, d.Revocations)

	g := e.Group("/v1/credentials", access)
	g.GET("", h.List)
	g.GET("/types", h.ServiceTypes)
	g.PUT("/:service", h.Save)
	g.GET("/:service", h.Get)
	g.DELETE("/:service", h.Disconnect)

	s := e.Group("/v1/services/:service", access, middleware.RequireActiveCredential(d.Vault, "service"))
	s.GET("/status", h.Status)
}

// New builds the echo instance with the shared middleware and every route.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.HTTPErrorHandler
	e.IPExtractor = ipExtractor(d.RateLimit)
	e.Use(middleware.RequestLogger(logrus.StandardLogger()), middleware.Recover())

	RegisterRoutes(e, d.Health)
	RegisterAuth(e, d)
	RegisterAdmin(e, d)
	RegisterCredentials(e, d)
	return e
}

// ipExtractor uses the socket peer address unless trusted proxies are
// configured. Forwarding headers from anyone else are ignored.
func ipExtractor(cfg config.RateLimitConfig) echo.IPExtractor {
	if len(cfg.TrustedProxies) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range cfg.TrustedProxies {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}
