package controllers

import (
	"context"
	"time"

	"github.com/agistaffers/backoffice/internal/pkg/cache"
	"github.com/gofiber/fiber/v2"
)

// HandleHealth pings the database and, when checkRedis is set, Redis.
func (h *Handlers) HandleHealth(checkRedis bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{"database": "ok"}
		healthy := true

		if sqlDB, err := h.Repos.DB().DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["database"] = "unavailable"
			healthy = false
		}
		if checkRedis {
			checks["redis"] = "ok"
			if err := cache.Ping(ctx); err != nil {
				checks["redis"] = "unavailable"
				healthy = false
			}
		}

		status := fiber.StatusOK
		if !healthy {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{"success": healthy, "checks": checks})
	}
}
