package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orris-inc/adfree/internal/application/reconcile"
	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/infrastructure/auth"
	"github.com/orris-inc/adfree/internal/infrastructure/authority"
	"github.com/orris-inc/adfree/internal/infrastructure/cache"
	"github.com/orris-inc/adfree/internal/infrastructure/config"
	"github.com/orris-inc/adfree/internal/infrastructure/database"
	"github.com/orris-inc/adfree/internal/infrastructure/pubsub"
	"github.com/orris-inc/adfree/internal/infrastructure/store"
	"github.com/orris-inc/adfree/internal/shared/biztime"
	sharedConfig "github.com/orris-inc/adfree/internal/shared/config"
	"github.com/orris-inc/adfree/internal/shared/logger"
)

const (
	driverRedis   = "redis"
	driverSandbox = "sandbox"
	driverHTTP    = "http"
)

// runtime holds everything one client invocation needs. Close releases it.
type runtime struct {
	cfg    *config.Config
	logger logger.Interface
	clock  biztime.Clock

	gate  *reconcile.Gate
	redis *redis.Client

	closers []func()
}

func newRuntime(ctx context.Context, opts options) (*runtime, error) {
	cfg, err := config.Load(opts.env, opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Logger.OutputPath == "" || strings.EqualFold(cfg.Logger.OutputPath, "stdout") {
		cfg.Logger.OutputPath = "stderr"
	}
	if err := logger.Init(&cfg.Logger); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &runtime{
		cfg:    cfg,
		logger: logger.WithComponent("client"),
		clock:  biztime.System(),
	}

	catalog, err := reconcile.NewCatalog(cfg.Products)
	if err != nil {
		return nil, err
	}

	entCache, err := rt.openCache(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Store.HTTPTimeout}
	reconcileOpts := reconcile.OptionsFromConfig(cfg.Remote)

	rt.gate = reconcile.NewGate(func(userID string) (*reconcile.Orchestrator, error) {
		accountID := opts.accountID
		if accountID == "" {
			accountID = userID
		}

		remote, err := authority.NewHTTPClient(cfg.Remote, rt.tokenSource(opts.token, userID), httpClient, rt.logger)
		if err != nil {
			return nil, err
		}

		platform, err := rt.openStore(ctx, accountID, httpClient)
		if err != nil {
			return nil, err
		}

		return reconcile.NewOrchestrator(userID, reconcile.Dependencies{
			Authority: remote,
			Store:     platform,
			Cache:     entCache,
			Catalog:   catalog,
			Clock:     rt.clock,
		}, reconcileOpts, rt.logger), nil
	}, rt.clock, rt.logger)
	rt.closers = append(rt.closers, rt.gate.Close)

	user := entitlement.GuestUser()
	if opts.userID != "" {
		user = entitlement.AuthenticatedUser(opts.userID)
	}
	if err := rt.gate.SwitchUser(ctx, user); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) openCache(ctx context.Context) (reconcile.Cache, error) {
	if strings.EqualFold(rt.cfg.Cache.Driver, driverRedis) {
		client, err := rt.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return cache.NewRedisEntitlementCache(client, rt.cfg.Cache.TTL, rt.clock, rt.logger), nil
	}

	db, err := database.Open(&sharedConfig.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   rt.cfg.Cache.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open entitlement cache: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = database.CloseDB(db) })

	return cache.NewSQLiteEntitlementCache(db, rt.cfg.Cache.TTL, rt.clock, rt.logger)
}

func (rt *runtime) openStore(ctx context.Context, accountID string, httpClient *http.Client) (reconcile.Store, error) {
	switch strings.ToLower(rt.cfg.Store.Driver) {
	case driverHTTP:
		var bus *pubsub.RedisStoreEventBus
		if client, err := rt.redisClient(ctx); err == nil {
			bus = pubsub.NewRedisStoreEventBus(client, rt.logger)
		} else {
			rt.logger.Warnw("store events disabled", "error", err)
		}
		s := store.NewHTTPStore(rt.cfg.Store, accountID, bus, httpClient, rt.logger)
		listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := s.Listen(listenCtx)
		rt.closers = append(rt.closers, func() {
			cancel()
			<-done
		})
		return s, nil
	case driverSandbox, "":
		fixture, err := store.LoadFixture(rt.cfg.Store.Fixture)
		if err != nil {
			return nil, err
		}
		return store.NewSandbox(fixture, accountID, rt.clock), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", rt.cfg.Store.Driver)
	}
}

// tokenSource prefers an explicit bearer token and otherwise signs one for
// the user with the shared secret, which only development setups have.
func (rt *runtime) tokenSource(token, userID string) auth.TokenSource {
	if token != "" {
		return auth.StaticTokenSource(token)
	}
	jwt := rt.cfg.Auth.JWT
	return auth.NewJWTTokenSource(auth.NewJWTService(jwt.Secret, jwt.Issuer, jwt.AccessExpMinutes), userID)
}

func (rt *runtime) redisClient(ctx context.Context) (*redis.Client, error) {
	if rt.redis != nil {
		return rt.redis, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rt.cfg.Redis.GetAddr(),
		Password: rt.cfg.Redis.Password,
		DB:       rt.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", rt.cfg.Redis.GetAddr(), err)
	}

	rt.redis = client
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	return client, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
