package http

import (
	"github.com/gin-gonic/gin"

	"github.com/orris-inc/adfree/internal/infrastructure/config"
	"github.com/orris-inc/adfree/internal/interfaces/http/handlers"
	"github.com/orris-inc/adfree/internal/interfaces/http/middleware"
	"github.com/orris-inc/adfree/internal/shared/constants"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// Router represents the HTTP router configuration
type Router struct {
	engine             *gin.Engine
	entitlementHandler *handlers.EntitlementHandler
	healthHandler      *handlers.HealthHandler
	authMiddleware     *middleware.AuthMiddleware
	rateLimiter        *middleware.RateLimiter
	log                logger.Interface
}

// SetupRoutes configures all HTTP routes
func (r *Router) SetupRoutes(cfg *config.Config) {
	r.engine.Use(middleware.RequestLogger(r.log))
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.SecurityHeaders())
	r.engine.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	r.engine.GET("/healthz", r.healthHandler.HealthCheck)

	users := r.engine.Group(constants.APIPrefix + "/users/:user_id")
	users.Use(
		middleware.ClientVersion(cfg.Server.MinClientVersion),
		r.authMiddleware.RequireAuth(),
		r.authMiddleware.RequireSelf("user_id"),
	)
	{
		users.GET("/entitlement", r.entitlementHandler.GetEntitlement)

		upsert := []gin.HandlerFunc{r.entitlementHandler.UpsertTransaction}
		if r.rateLimiter != nil {
			upsert = append([]gin.HandlerFunc{r.rateLimiter.Limit()}, upsert...)
		}
		users.PUT("/entitlement/transactions/:transaction_id", upsert...)
	}
}

// GetEngine returns the Gin engine
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
