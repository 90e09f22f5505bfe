package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

var signatureHeaders = map[string]string{
	"square": "X-Square-Hmacsha256-Signature",
	"stripe": "Stripe-Signature",
}

// HandleWebhook verifies and ingests a provider callback. Replays answer 200
// so the provider stops retrying.
func (h *Handlers) HandleWebhook(c *fiber.Ctx) error {
	provider := strings.ToLower(c.Params("provider"))
	var signature string
	if header, ok := signatureHeaders[provider]; ok {
		signature = c.Get(header)
	}
	// fiber reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)

	res, err := h.Webhooks.Ingest(c.UserContext(), provider, signature, body)
	if err != nil {
		return respondError(c, err, "Webhook processing failed")
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"eventId":   res.EventID,
		"outcome":   res.Outcome,
		"duplicate": res.Duplicate,
	})
}
