package controllers

import (
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/gofiber/fiber/v2"
)

type replaceThresholdsRequest struct {
	Thresholds []models.AlertThreshold `json:"thresholds"`
}

func (h *Handlers) HandleListThresholds(c *fiber.Ctx) error {
	list, err := h.Monitor.Thresholds(c.UserContext())
	if err != nil {
		return respondError(c, err, "Failed to load thresholds")
	}
	return c.JSON(fiber.Map{"success": true, "thresholds": list})
}

// HandleReplaceThresholds swaps the whole threshold configuration.
func (h *Handlers) HandleReplaceThresholds(c *fiber.Ctx) error {
	var req replaceThresholdsRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, badBody(), "")
	}
	stored, err := h.Monitor.ReplaceThresholds(c.UserContext(), req.Thresholds)
	if err != nil {
		return respondError(c, err, "Failed to save thresholds")
	}
	return c.JSON(fiber.Map{"success": true, "thresholds": stored})
}

func (h *Handlers) HandleAlertHistory(c *fiber.Ctx) error {
	entries, err := h.Monitor.History(c.UserContext(), c.QueryInt("limit", 100))
	if err != nil {
		return respondError(c, err, "Failed to load alert history")
	}
	return c.JSON(fiber.Map{"success": true, "alerts": entries})
}

// HandleCurrentMetrics serves the latest snapshot plus a 24h severity count.
func (h *Handlers) HandleCurrentMetrics(c *fiber.Ctx) error {
	ctx := c.UserContext()
	snap, err := h.Monitor.Latest(ctx)
	if err != nil {
		return respondError(c, err, "Failed to load metrics")
	}
	summary, err := h.Monitor.Summary(ctx, 24*time.Hour)
	if err != nil {
		return respondError(c, err, "Failed to load metrics")
	}
	return c.JSON(fiber.Map{"success": true, "snapshot": snap, "alerts24h": summary})
}
