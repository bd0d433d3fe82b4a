package http

import (
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/canvas-sync/internal/api/http/handlers"
	"github.com/spec-kit/canvas-sync/internal/auth"
	"github.com/spec-kit/canvas-sync/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Canvas         *handlers.CanvasHandler
	Uploads        *handlers.UploadHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
	// AuthRateLimitPerMinute caps signup and login attempts per client IP.
	AuthRateLimitPerMinute int
	// StaticDir, when set, serves a single page app with index fallback.
	StaticDir string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/auth")
	limited := RateLimitMiddleware(cfg.AuthRateLimitPerMinute)
	authGroup.Post("/signup", limited, cfg.Auth.Signup)
	authGroup.Post("/login", limited, cfg.Auth.Login)
	authGroup.Get("/me", cfg.AuthMiddleware.Handle, cfg.Auth.Me)
	authGroup.Post("/logout", cfg.AuthMiddleware.Handle, cfg.Auth.Logout)

	docs := app.Group("/documents", cfg.AuthMiddleware.Handle)
	docs.Get("/", cfg.Canvas.List)
	docs.Post("/", cfg.Canvas.Create)
	docs.Get("/:id", cfg.Canvas.Get)
	docs.Put("/:id", cfg.Canvas.Save)
	docs.Delete("/:id", cfg.Canvas.Delete)

	universe := app.Group("/universe", cfg.AuthMiddleware.Handle)
	universe.Get("/", cfg.Canvas.GetUniverse)
	universe.Post("/", cfg.Canvas.SaveUniverse)

	if cfg.Uploads != nil {
		app.Post("/uploads/images", cfg.AuthMiddleware.Handle, cfg.Uploads.UploadImage)
	}

	if cfg.StaticDir != "" {
		registerStatic(app, cfg.StaticDir)
	}
}

func registerStatic(app *fiber.App, dir string) {
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		return
	}
	app.Static("/", dir)
	app.Get("/*", func(c *fiber.Ctx) error {
		return c.SendFile(index)
	})
}
