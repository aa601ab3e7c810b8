package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voice4victims/medrecord-access/internal/core/port"
	"github.com/voice4victims/medrecord-access/internal/infra/config"
	"github.com/voice4victims/medrecord-access/internal/infra/security"
	"github.com/voice4victims/medrecord-access/internal/transport/http/handlers"
	"github.com/voice4victims/medrecord-access/internal/transport/http/middleware"
	"github.com/voice4victims/medrecord-access/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Engine   *usecase.AuthorizationEngine
	Sessions *usecase.SessionManager
	Grants   *usecase.GrantManager
	Consents *usecase.ConsentManager
	Audit    *usecase.AuditService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config        *config.AppConfig
	Logger        *zap.Logger
	RateLimiter   *middleware.TransportLimiter
	HTTPMetrics   *middleware.HTTPMetrics
	Services      ServiceSet
	Verifier      *security.IdentityVerifier
	Confirmations port.DeletionConfirmationStore
	Database      DatabaseChecker
	Cache         CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.App.AllowedOrigins))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Handler())
	}

	identityMiddleware := middleware.RequireIdentity(deps.Verifier)

	checks := buildHealthChecks(deps)
	healthHandler := handlers.NewHealthHandler(checks)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		// The origin budget fires before identity is known; the principal
		// budget needs the identity middleware to have run.
		originBudget, principalBudget, limited := transportBudgets(deps)
		if limited {
			api.Use(deps.RateLimiter.Enforce(originBudget))
		}
		api.Use(identityMiddleware)
		if limited {
			api.Use(deps.RateLimiter.Enforce(principalBudget))
		}

		authorizeHandler := handlers.NewAuthorizeHandler(deps.Services.Engine)
		api.POST("/authorize", authorizeHandler.Decide)

		sessionHandler := handlers.NewSessionHandler(deps.Services.Sessions, deps.Confirmations, deps.Config.Redis.ConfirmationTTL, deps.Logger)
		sessionGroup := api.Group("/sessions")
		sessionGroup.POST("", sessionHandler.Create)
		sessionGroup.GET("", sessionHandler.List)
		sessionGroup.DELETE("", sessionHandler.RevokeAll)
		sessionGroup.DELETE("/:id", sessionHandler.Revoke)
		sessionGroup.POST("/:id/elevate", sessionHandler.Elevate)
		sessionGroup.POST("/:id/confirm-deletion", sessionHandler.ConfirmDeletion)

		grantHandler := handlers.NewGrantHandler(deps.Services.Grants, deps.Logger)
		grantGroup := api.Group("/grants")
		grantGroup.POST("", grantHandler.Create)
		grantGroup.GET("", grantHandler.List)
		grantGroup.DELETE("/:id", grantHandler.Revoke)

		consentHandler := handlers.NewConsentHandler(deps.Services.Consents, deps.Logger)
		consentGroup := api.Group("/consents")
		consentGroup.GET("", consentHandler.Status)
		consentGroup.POST("", consentHandler.Grant)
		consentGroup.DELETE("", consentHandler.Revoke)

		api.POST("/deletion-requests", consentHandler.RequestDeletion)
	}

	return r
}

func buildHealthChecks(deps Dependencies) map[string]handlers.DependencyChecker {
	checks := make(map[string]handlers.DependencyChecker)

	if deps.Database != nil {
		db := deps.Database
		checks["database"] = func() (bool, string) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				return false, err.Error()
			}
			return true, ""
		}
	}

	if deps.Cache != nil {
		cache := deps.Cache
		checks["redis"] = func() (bool, string) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := cache.HealthCheck(ctx); err != nil {
				return false, err.Error()
			}
			return true, ""
		}
	}

	if deps.Services.Audit != nil {
		audit := deps.Services.Audit
		checks["audit"] = func() (bool, string) {
			return audit.Healthy()
		}
	}

	return checks
}

func transportBudgets(deps Dependencies) (origin, principal middleware.Budget, ok bool) {
	if deps.RateLimiter == nil || deps.Config == nil {
		return middleware.Budget{}, middleware.Budget{}, false
	}

	window := deps.Config.RateLimit.HTTPWindow
	if window <= 0 {
		window = time.Minute
	}

	origin = middleware.Budget{
		Name:   "api_origin",
		Limit:  deps.Config.RateLimit.HTTPMaxPerOrigin,
		Window: window,
		Key:    middleware.ByOriginSubnet(),
	}
	principal = middleware.Budget{
		Name:   "api_principal",
		Limit:  deps.Config.RateLimit.HTTPMaxPerPrincipal,
		Window: window,
		Key:    middleware.ByPrincipal(),
	}

	return origin, principal, origin.Limit > 0 || principal.Limit > 0
}
