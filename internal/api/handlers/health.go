package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Arttribute/agent-commons-sub004/internal/services"
)

// Health reports whether the checkpoint store answers a ping
func Health(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if svc.Health == nil {
			return c.JSON(fiber.Map{"status": "healthy"})
		}
		err := svc.Health.HealthCheck(c.UserContext())

		body := fiber.Map{
			"status":  "healthy",
			"service": "agent-commons-checkpoints",
		}
		if svc.Monitor != nil {
			body["store"] = svc.Monitor.Status()
		}
		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(body)
		}
		return c.JSON(body)
	}
}
