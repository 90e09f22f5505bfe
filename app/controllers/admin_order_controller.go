package controllers

import (
	"errors"

	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func (h *Handlers) HandleListOrders(c *fiber.Ctx) error {
	offset, limit := pageParams(c)
	filter := repository.OrderFilter{
		Status: c.Query("status"),
		Offset: offset,
		Limit:  limit,
	}
	if customerID := c.QueryInt("customerId", 0); customerID > 0 {
		filter.CustomerID = uint(customerID)
	}

	list, total, err := h.Repos.Order.List(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err, "Failed to load orders")
	}
	return c.JSON(fiber.Map{"success": true, "orders": list, "total": total, "offset": offset, "limit": limit})
}

// HandleGetOrder returns the order with its latest invoice and refunds.
func (h *Handlers) HandleGetOrder(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err, "")
	}
	ctx := c.UserContext()

	order, err := h.Repos.Order.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, apperrors.NotFound("order", id), "")
	}
	if err != nil {
		return respondError(c, err, "Failed to load order")
	}

	invoice, err := h.Repos.Invoice.GetLatestByOrderID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		invoice, err = nil, nil
	}
	if err != nil {
		return respondError(c, err, "Failed to load order")
	}
	refunds, err := h.Repos.Refund.ListByOrderID(ctx, id)
	if err != nil {
		return respondError(c, err, "Failed to load order")
	}

	return c.JSON(fiber.Map{"success": true, "order": order, "invoice": invoice, "refunds": refunds})
}

func (h *Handlers) HandleDeliverOrder(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err, "")
	}
	order, err := h.Orders.DeliverProduct(c.UserContext(), id)
	if err != nil {
		return respondError(c, err, "Delivery failed")
	}
	return c.JSON(fiber.Map{"success": true, "order": order})
}

func (h *Handlers) HandleCloseTicket(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err, "")
	}
	ticket, err := h.Orders.CloseSupportTicket(c.UserContext(), id)
	if err != nil {
		return respondError(c, err, "Ticket could not be closed")
	}
	return c.JSON(fiber.Map{"success": true, "ticket": ticket})
}
