package controllers

import (
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/orders"
	"github.com/gofiber/fiber/v2"
)

type createSubscriptionRequest struct {
	CustomerID    uint   `json:"customerId" validate:"required"`
	PlanID        string `json:"planId" validate:"required"`
	PaymentMethod string `json:"paymentMethod" validate:"omitempty,oneof=card bank_deposit"`
	CardReference string `json:"cardReference"`
}

type changePlanRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

func (h *Handlers) HandleCreateSubscription(c *fiber.Ctx) error {
	var req createSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, badBody(), "")
	}
	if err := apperrors.ValidateStruct(req); err != nil {
		return respondError(c, err, "")
	}

	order, err := h.Orders.CreateSubscription(c.UserContext(), orders.SubscriptionInput{
		CustomerID:    req.CustomerID,
		PlanID:        req.PlanID,
		PaymentMethod: req.PaymentMethod,
		CardReference: req.CardReference,
	})
	if err != nil {
		return respondError(c, err, paymentFailedMessage)
	}
	return c.JSON(fiber.Map{
		"success":        true,
		"orderId":        order.ID,
		"subscriptionId": order.SubscriptionID,
		"status":         order.Status,
		"amount":         order.Amount,
	})
}

func (h *Handlers) HandleCancelSubscription(c *fiber.Ctx) error {
	order, err := h.Orders.CancelSubscription(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err, "Subscription could not be cancelled")
	}
	return c.JSON(fiber.Map{"success": true, "order": order})
}

func (h *Handlers) HandleChangePlan(c *fiber.Ctx) error {
	var req changePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, badBody(), "")
	}
	if err := apperrors.ValidateStruct(req); err != nil {
		return respondError(c, err, "")
	}

	order, err := h.Orders.ChangeSubscriptionPlan(c.UserContext(), c.Params("id"), req.PlanID)
	if err != nil {
		return respondError(c, err, "Plan change failed")
	}
	return c.JSON(fiber.Map{"success": true, "order": order})
}
