package router

import (
	"github.com/agistaffers/backoffice/app/controllers"
	"github.com/agistaffers/backoffice/internal/pkg/constants"
	"github.com/agistaffers/backoffice/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

// AdminRouter serves operator endpoints behind the admin API key.
type AdminRouter struct {
	cfg Config
	h   *controllers.Handlers
}

func NewAdminRouter(cfg Config, h *controllers.Handlers) *AdminRouter {
	return &AdminRouter{cfg: cfg, h: h}
}

func (r AdminRouter) InstallRouter(app *fiber.App) {
	requireKey := middleware.AdminAPIKey(r.cfg.AdminKeyHash)

	adminGroup := app.Group(constants.AdminPrefix, requireKey)
	adminGroup.Get("/orders", r.h.HandleListOrders)
	adminGroup.Get("/orders/:id", r.h.HandleGetOrder)
	adminGroup.Post("/orders/:id/deliver", r.h.HandleDeliverOrder)
	adminGroup.Post("/tickets/:id/close", r.h.HandleCloseTicket)
	adminGroup.Get("/bank-deposits", r.h.HandleListBankDeposits)
	adminGroup.Post("/bank-deposits/:id/verify", r.h.HandleVerifyBankDeposit)

	alerts := app.Group(constants.AlertsPrefix, requireKey)
	alerts.Get("/thresholds", r.h.HandleListThresholds)
	alerts.Post("/thresholds", r.h.HandleReplaceThresholds)
	alerts.Get("/history", r.h.HandleAlertHistory)
	alerts.Get("/metrics", r.h.HandleCurrentMetrics)

	subs := app.Group(constants.SubscriptionsPrefix, requireKey)
	subs.Post("/", r.h.HandleCreateSubscription)
	subs.Post("/:id/cancel", r.h.HandleCancelSubscription)
	subs.Post("/:id/plan", r.h.HandleChangePlan)
}
