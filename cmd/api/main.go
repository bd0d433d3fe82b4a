package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/api/http/handlers"
	"github.com/spec-kit/canvas-sync/internal/auth"
	"github.com/spec-kit/canvas-sync/internal/config"
	"github.com/spec-kit/canvas-sync/internal/observability"
	"github.com/spec-kit/canvas-sync/internal/persistence"
	"github.com/spec-kit/canvas-sync/internal/repository"
	"github.com/spec-kit/canvas-sync/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if _, err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("invalid redis configuration", zap.Error(err))
	}
	defer redis.Close()

	objects, err := persistence.NewObjectStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to connect object storage", zap.Error(err))
	}

	deps := server.Dependencies{
		Revocations: auth.NewRedisRevocationList(redis.Client),
		Logger:      logger,
		Metrics:     observability.NewMetrics(),
		Health:      []handlers.Dependency{{Name: "redis", Check: redis}},
	}
	if pool := pg.PoolHandle(); pool != nil {
		deps.Users = repository.NewUserRepository(pool)
		deps.Canvases = repository.NewCanvasRepository(pool)
		deps.Health = append(deps.Health, handlers.Dependency{Name: "postgres", Check: pg})
	} else {
		store := repository.NewMemoryStore(nil)
		deps.Users = store.Users()
		deps.Canvases = store.Canvases()
		deps.Health = append(deps.Health, handlers.Dependency{Name: "postgres"})
	}
	if objects != nil {
		deps.ObjectStore = objects
		deps.Health = append(deps.Health, handlers.Dependency{Name: "object_storage", Check: objects})
	} else {
		deps.Health = append(deps.Health, handlers.Dependency{Name: "object_storage"})
	}

	app := server.New(*cfg, deps)

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()
	logger.Info("listening", zap.String("addr", cfg.App.Addr()))

	waitForShutdown(logger)

	if err := app.Shutdown(); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
