package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/harshu777/balsampada-lms/internal/app"
	iauth "github.com/harshu777/balsampada-lms/internal/auth"
	"github.com/harshu777/balsampada-lms/internal/handlers"
	"github.com/harshu777/balsampada-lms/internal/middleware"
	"github.com/harshu777/balsampada-lms/internal/models"
)

// Deps bundles the services the router wires into handlers.
type Deps struct {
	DB          *gorm.DB
	JWT         *iauth.JWTService
	Sessions    *iauth.SessionService
	Credentials *iauth.CredentialService
	Google      *iauth.GoogleService
	RateStore   middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(cfg *app.Config, deps Deps) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credential service must be provided")
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	r.NoRoute(middleware.NotFoundHandler)

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(deps.DB))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Credentials, deps.Sessions, deps.Google)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions)
	profileHandler := handlers.NewProfileHandler(deps.DB, deps.Credentials, deps.Sessions)

	requireAuth := middleware.Auth(deps.JWT)

	// Public auth routes. Credential endpoints are rate limited per client
	// to slow down brute forcing.
	auth := r.Group("/api/auth")
	if cfg.Server.RateLimit.Enabled {
		limiter := middleware.RateLimitWithStore(rateStore(deps), cfg.Server.RateLimit.Max, cfg.Server.RateLimit.Window)
		auth.Use(limiter)
	}
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/google", authHandler.GoogleLogin)
		auth.GET("/google/callback", authHandler.GoogleCallback)
	}

	api := r.Group("/api")
	api.Use(requireAuth)

	api.GET("/auth/me", profileHandler.Me)
	api.PUT("/auth/password", profileHandler.ChangePassword)
	api.GET("/auth/sessions", sessionHandler.List)
	api.DELETE("/auth/sessions/:id", sessionHandler.Revoke)
	api.POST("/auth/logout-all", sessionHandler.RevokeAll)

	admin := api.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	admin.DELETE("/users/:id/sessions", sessionHandler.RevokeForUser)

	return r, nil
}

func rateStore(deps Deps) middleware.RateStore {
	if deps.RateStore != nil {
		return deps.RateStore
	}
	return middleware.NewMemoryRateStore()
}
