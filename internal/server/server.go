// Package server assembles the HTTP application from its collaborators.
package server

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/canvas-sync/internal/api/http"
	"github.com/spec-kit/canvas-sync/internal/api/http/handlers"
	"github.com/spec-kit/canvas-sync/internal/auth"
	"github.com/spec-kit/canvas-sync/internal/config"
	"github.com/spec-kit/canvas-sync/internal/events"
	"github.com/spec-kit/canvas-sync/internal/observability"
	"github.com/spec-kit/canvas-sync/internal/repository"
	"github.com/spec-kit/canvas-sync/internal/service"
	"github.com/spec-kit/canvas-sync/internal/worker"
)

// Dependencies are the storage and infrastructure handles the app runs on.
// Revocations and ObjectStore may be nil.
type Dependencies struct {
	Users       repository.UserRepository
	Canvases    repository.CanvasRepository
	Revocations auth.RevocationList
	ObjectStore service.ObjectPutter
	Health      []handlers.Dependency
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Dispatcher  events.Dispatcher
}

// New builds the fiber app with middlewares, services and routes wired.
func New(cfg config.Config, deps Dependencies) *fiber.App {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher()
	}
	worker.StartActivityWorker(service.NewActivityService(dispatcher, logger, deps.Metrics))

	authService := service.NewAuthService(cfg, service.AuthDependencies{
		UserRepo:    deps.Users,
		CanvasRepo:  deps.Canvases,
		Revocations: deps.Revocations,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	canvasService := service.NewCanvasService(deps.Canvases, dispatcher, logger)
	uploadService := service.NewUploadService(deps.ObjectStore, cfg.Storage.MaxUploadBytes(), logger)
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), deps.Users, deps.Revocations, logger)

	// Multipart overhead on top of the largest accepted image.
	bodyLimit := cfg.Storage.MaxUploadBytes() + 1<<20
	if bodyLimit < 4<<20 {
		bodyLimit = 4 << 20
	}
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		BodyLimit:             int(bodyLimit),
		DisableStartupMessage: true,
		ErrorHandler:          httptransport.ErrorHandler(logger, deps.Metrics),
	})
	httptransport.RegisterMiddlewares(app, logger, deps.Metrics, cfg.App.RequestTimeout(), cfg.CORS.AllowedOrigins)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:                 handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps.Health...),
		Auth:                   handlers.NewAuthHandler(authService, deps.Metrics),
		Canvas:                 handlers.NewCanvasHandler(canvasService),
		Uploads:                handlers.NewUploadHandler(uploadService),
		AuthMiddleware:         authMiddleware,
		Metrics:                deps.Metrics,
		AuthRateLimitPerMinute: cfg.Auth.RateLimitPerMinute,
		StaticDir:              cfg.App.StaticDir,
	})
	return app
}
