package router

import (
	"github.com/agistaffers/backoffice/app/controllers"
	"github.com/agistaffers/backoffice/internal/pkg/constants"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// HttpRouter serves the customer facing and provider facing endpoints.
type HttpRouter struct {
	cfg Config
	h   *controllers.Handlers
}

func NewHttpRouter(cfg Config, h *controllers.Handlers) *HttpRouter {
	return &HttpRouter{cfg: cfg, h: h}
}

func (r HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, r.h.HandleHealth(r.cfg.CheckRedis))

	public := []fiber.Handler{}
	if r.cfg.PublicRateMax > 0 {
		public = append(public, limiter.New(limiter.Config{
			Max:        r.cfg.PublicRateMax,
			Expiration: r.cfg.PublicRateWindow,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"success": false, "error": "Too many requests"})
			},
		}))
	}
	app.Post(constants.CheckoutRoute, append(public, r.h.HandleProcessPayment)...)
	app.Post(constants.BankDepositRoute, append(public, r.h.HandleSubmitBankDeposit)...)

	// Providers retry aggressively; no rate limit here.
	app.Post(constants.WebhookRoute, r.h.HandleWebhook)
}
