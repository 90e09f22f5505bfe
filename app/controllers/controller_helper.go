package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/monitoring"
	"github.com/agistaffers/backoffice/internal/pkg/orders"
	"github.com/agistaffers/backoffice/internal/pkg/webhooks"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// Handlers binds the HTTP surface to the back-office services.
type Handlers struct {
	Repos    *repository.Repositories
	Orders   *orders.Service
	Webhooks *webhooks.Service
	Monitor  *monitoring.Monitor
}

// respondError writes the failure in the shared {success:false, error} shape.
// Server-side failures get publicMsg; the cause only goes to the log.
func respondError(c *fiber.Ctx, err error, publicMsg string) error {
	status := apperrors.HTTPStatus(err)
	body := fiber.Map{"success": false}

	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		body["error"] = "Validation failed"
		body["fields"] = verr.Fields
	case status == fiber.StatusUnauthorized:
		body["error"] = "Invalid signature"
	case status == fiber.StatusNotFound, status == fiber.StatusConflict:
		body["error"] = err.Error()
	default:
		if publicMsg == "" {
			publicMsg = "Internal server error"
		}
		body["error"] = publicMsg
		log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(body)
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	raw := strings.TrimSpace(c.Params(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.Validation(name, "must be a positive integer")
	}
	return uint(id), nil
}

func formUint(c *fiber.Ctx, name string, required bool) (*uint, error) {
	raw := strings.TrimSpace(c.FormValue(name))
	if raw == "" {
		if required {
			return nil, apperrors.Validation(name, "is required")
		}
		return nil, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return nil, apperrors.Validation(name, "must be a positive integer")
	}
	v := uint(id)
	return &v, nil
}

func badBody() error {
	return apperrors.Validation("body", "must be valid JSON")
}
