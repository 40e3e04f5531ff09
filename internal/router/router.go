package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-essay-api/internal/config"
	"github.com/noah-isme/gema-essay-api/internal/handler"
	"github.com/noah-isme/gema-essay-api/internal/middleware"
	"github.com/noah-isme/gema-essay-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	EvaluationHandler *handler.EvaluationHandler
	ReportHandler     *handler.ReportHandler
	TemplateHandler   *handler.TemplateHandler
	HealthProbes      []handler.Probe
	JWTMiddleware     fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))
	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	teachers := middleware.RequireRole(middleware.RoleAdmin, middleware.RoleTeacher)

	if deps.EvaluationHandler != nil {
		evaluations := app.Group("/api/v2/evaluations", jwtMiddleware, teachers)
		limiter := middleware.RateLimit("evaluate", cfg.EvaluateRateLimit, time.Minute)
		deps.EvaluationHandler.Register(evaluations, limiter)

		if deps.ReportHandler != nil {
			deps.ReportHandler.Register(evaluations)
		}
	}

	if deps.TemplateHandler != nil {
		templates := app.Group("/api/v2/templates", jwtMiddleware, teachers)
		deps.TemplateHandler.Register(templates)
	}
}
