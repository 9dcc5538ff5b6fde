package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/auth-service/internal/api/http"
	"github.com/spec-kit/auth-service/internal/api/http/handlers"
	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/config"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/observability"
	"github.com/spec-kit/auth-service/internal/persistence"
	"github.com/spec-kit/auth-service/internal/ratelimit"
	"github.com/spec-kit/auth-service/internal/repository"
	"github.com/spec-kit/auth-service/internal/service"
	"github.com/spec-kit/auth-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	users, closeStore := openUserStore(ctx, cfg, logger)
	defer closeStore()

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL(), cfg.Auth.RefreshTokenTTL())
	if err != nil {
		logger.Fatal("failed to init token manager", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger, metrics))

	sessions := service.NewSessionService(service.SessionDependencies{
		Users:              users,
		Hasher:             auth.NewHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers),
		Tokens:             tokens,
		Events:             dispatcher,
		Logger:             logger,
		RotateRefreshToken: cfg.Auth.RotateRefreshToken,
	})

	if cfg.Auth.SeedFile != "" {
		created, err := sessions.SeedUsers(ctx, cfg.Auth.SeedFile)
		if err != nil {
			logger.Fatal("failed to seed users", zap.String("file", cfg.Auth.SeedFile), zap.Error(err))
		}
		logger.Info("seeded users", zap.Int("created", created))
	}

	store, counters, closeLimiter := openRateLimitStore(ctx, cfg, logger)
	defer closeLimiter()
	limiter := ratelimit.New(store, ratelimit.Config{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window()})

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, sessions, logger)
	if counters != nil {
		healthHandler.WithRateLimitStore(counters)
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Auth:           handlers.NewAuthHandler(sessions, cfg.Auth.CookieSecure),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, logger),
		RateLimit: ratelimit.NewMiddleware(ratelimit.MiddlewareConfig{
			Limiter:    limiter,
			TrustProxy: cfg.RateLimit.TrustProxy,
			Logger:     logger,
			OnDecision: func(c *fiber.Ctx, key string, res ratelimit.Result) {
				metrics.RecordRateLimit(res.Allowed)
				if !res.Allowed {
					_ = dispatcher.Publish(c.UserContext(), events.Event{Type: events.EventRateLimited, ClientKey: key})
				}
			},
		}),
		Metrics: metrics,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

// openUserStore connects Postgres and runs migrations. Without a DSN outside
// production it falls back to an in-memory store.
func openUserStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.UserRepository, func()) {
	if cfg.Postgres.DSN == "" {
		logger.Warn("POSTGRES_DSN not set; using in-memory credential store")
		return repository.NewMemoryUserRepository(), func() {}
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg, persistence.DefaultMigrationsDir, logger); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
			logger.Warn("migrations directory missing", zap.String("dir", persistence.DefaultMigrationsDir))
		}
	}
	return repository.NewUserRepository(pg), pg.Close
}

// openRateLimitStore returns the counter store and, for Redis, the client to
// include in health checks.
func openRateLimitStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ratelimit.Store, *persistence.Redis, func()) {
	if cfg.RateLimit.Store == "redis" {
		rdb := persistence.NewRedis(ctx, cfg.Redis, logger)
		return ratelimit.NewRedisStore(rdb.Client, cfg.App.Name+":ratelimit:"), rdb, rdb.Close
	}
	store := ratelimit.NewMemoryStore(cfg.RateLimit.Window())
	return store, nil, store.Close
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
