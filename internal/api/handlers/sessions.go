package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Arttribute/agent-commons-sub004/internal/repository"
	"github.com/Arttribute/agent-commons-sub004/internal/services"
)

// GetSession returns the summary of a session
func GetSession(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Params("sessionId")
		if sessionID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Missing sessionId",
			})
		}

		summary, err := svc.Sessions.GetSession(c.UserContext(), sessionID)
		if err != nil {
			if errors.Is(err, services.ErrMissingSessionID) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"message": "Missing sessionId",
				})
			}
			return err
		}

		return c.JSON(summary)
	}
}

// ListCheckpoints returns the checkpoints of a session
func ListCheckpoints(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Params("sessionId")
		if sessionID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Missing sessionId",
			})
		}

		limit, err := services.ParseLimit(c.Query("limit"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": err.Error(),
			})
		}
		order, err := services.ParseListOrder(c.Query("order"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": err.Error(),
			})
		}

		cfg := repository.CheckpointConfig{
			ThreadID:     sessionID,
			CheckpointNS: c.Query("ns"),
		}
		opts := repository.ListOptions{Limit: limit}
		if before := c.Query("before"); before != "" {
			opts.Before = &repository.CheckpointConfig{
				ThreadID:     cfg.ThreadID,
				CheckpointNS: cfg.CheckpointNS,
				CheckpointID: before,
			}
		}

		tuples, err := svc.Sessions.ListCheckpoints(c.UserContext(), cfg, opts, order)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"checkpoints": tuples,
		})
	}
}
