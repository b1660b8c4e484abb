package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/Arttribute/agent-commons-sub004/internal/api/handlers"
	"github.com/Arttribute/agent-commons-sub004/internal/api/middleware"
	"github.com/Arttribute/agent-commons-sub004/internal/config"
	"github.com/Arttribute/agent-commons-sub004/internal/services"
)

// NewApp builds the Fiber app with middleware and routes installed.
func NewApp(cfg config.ServerConfig, svc *services.Services, logger *logrus.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Agent Commons Checkpoints",
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(middleware.LoggingConfig{
		Logger:    logger,
		SkipPaths: []string{"/healthz"},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, " + middleware.RequestIDHeader,
		AllowMethods: "GET, OPTIONS",
	}))

	SetupRoutes(app, svc)
	return app
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, svc *services.Services) {
	app.Get("/healthz", handlers.Health(svc))

	v1 := app.Group("/v1")

	// Session read path
	v1.Get("/sessions/:sessionId/checkpoints", handlers.ListCheckpoints(svc))
	v1.Get("/sessions/:sessionId?", handlers.GetSession(svc))
}

// ErrorHandler renders errors that handlers return.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
