package controllers

import (
	"strconv"

	"github.com/agistaffers/backoffice/internal/pkg/orders"
	"github.com/gofiber/fiber/v2"
)

const paymentFailedMessage = "Payment failed, please try again"

// HandleProcessPayment is the public checkout submission.
func (h *Handlers) HandleProcessPayment(c *fiber.Ctx) error {
	var in orders.CheckoutInput
	if err := c.BodyParser(&in); err != nil {
		return respondError(c, badBody(), "")
	}

	res, err := h.Orders.Checkout(c.UserContext(), in)
	if err != nil {
		return respondError(c, err, paymentFailedMessage)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"orderId":     res.Order.ID,
		"orderNumber": res.Order.OrderNumber,
		"customerId":  res.Customer.ID,
		"amount":      strconv.FormatInt(res.Order.Amount, 10),
		"currency":    res.Order.Currency,
		"status":      res.Order.Status,
		"type":        res.Order.OrderType,
	})
}
