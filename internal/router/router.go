package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler *handler.GradingHandler
	HealthProbes   []handler.HealthProbe
	JWTMiddleware  fiber.Handler
	// GradeRateLimit throttles grading runs per user. Nil disables it.
	GradeRateLimit fiber.Handler
	ExposeMetrics  bool
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	if deps.ExposeMetrics {
		app.Get("/metrics", observability.MetricsHandler())
	}

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.GradingHandler != nil {
		gradingGroup := app.Group("/api/v2/grading", jwtMiddleware)

		cacheGroup := gradingGroup.Group("/cache", middleware.RequireRole("admin"))
		deps.GradingHandler.RegisterCache(cacheGroup)

		submissions := gradingGroup.Group("/submissions", middleware.RequireRole("admin", "teacher"))
		var gradeMiddleware []fiber.Handler
		if deps.GradeRateLimit != nil {
			gradeMiddleware = append(gradeMiddleware, deps.GradeRateLimit)
		}
		deps.GradingHandler.Register(submissions, gradeMiddleware...)
	}
}
