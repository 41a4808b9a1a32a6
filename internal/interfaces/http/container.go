package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/orris-inc/adfree/internal/application/entitlement/usecases"
	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/auth"
	"github.com/orris-inc/adfree/internal/infrastructure/config"
	"github.com/orris-inc/adfree/internal/infrastructure/pubsub"
	"github.com/orris-inc/adfree/internal/infrastructure/repository"
	"github.com/orris-inc/adfree/internal/interfaces/http/handlers"
	"github.com/orris-inc/adfree/internal/interfaces/http/middleware"
	"github.com/orris-inc/adfree/internal/shared/biztime"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

// Container wires the authority server: repository, use cases, handlers and
// middlewares. Redis is optional; without it changes are not broadcast and
// upserts are not rate limited.
type Container struct {
	engine *gin.Engine
	db     *gorm.DB
	cfg    *config.Config
	log    logger.Interface
	redis  *redis.Client

	entitlementRepo entitlement.Repository
	eventBus        *pubsub.RedisEntitlementEventBus

	getEntitlementUC    *usecases.GetEntitlementUseCase
	upsertEntitlementUC *usecases.UpsertEntitlementUseCase

	router *Router
}

// NewContainer creates a new Container with all dependencies wired together.
func NewContainer(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, log logger.Interface) *Container {
	c := &Container{
		engine: gin.New(),
		db:     db,
		cfg:    cfg,
		log:    log,
		redis:  redisClient,
	}

	c.initEntitlement()
	c.initRouter()

	return c
}

func (c *Container) initEntitlement() {
	c.entitlementRepo = repository.NewEntitlementRepository(c.db, c.log)

	var publisher usecases.ChangePublisher
	if c.redis != nil {
		c.eventBus = pubsub.NewRedisEntitlementEventBus(c.redis, c.log)
		publisher = c.eventBus
	}

	c.getEntitlementUC = usecases.NewGetEntitlementUseCase(c.entitlementRepo, c.log)
	c.upsertEntitlementUC = usecases.NewUpsertEntitlementUseCase(c.entitlementRepo, publisher, biztime.System(), c.log)
}

func (c *Container) initRouter() {
	jwtSvc := auth.NewJWTService(c.cfg.Auth.JWT.Secret, c.cfg.Auth.JWT.Issuer, c.cfg.Auth.JWT.AccessExpMinutes)

	checks := map[string]handlers.Pinger{
		"database": handlers.PingFunc(func(ctx context.Context) error {
			sqlDB, err := c.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	var rateLimiter *middleware.RateLimiter
	if c.redis != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return c.redis.Ping(ctx).Err()
		})
		rateLimiter = middleware.NewRateLimiter(c.redis, c.cfg.Server.RateLimit, time.Minute, c.log)
	}

	c.router = &Router{
		engine:             c.engine,
		entitlementHandler: handlers.NewEntitlementHandler(c.getEntitlementUC, c.upsertEntitlementUC, c.log),
		healthHandler:      handlers.NewHealthHandler(checks),
		authMiddleware:     middleware.NewAuthMiddleware(jwtSvc, c.log),
		rateLimiter:        rateLimiter,
		log:                c.log,
	}
	c.router.SetupRoutes(c.cfg)
}

// Router returns the configured router.
func (c *Container) Router() *Router {
	return c.router
}

// Engine returns the Gin engine serving the API.
func (c *Container) Engine() *gin.Engine {
	return c.engine
}
