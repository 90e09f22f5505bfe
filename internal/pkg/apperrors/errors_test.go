package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestNotFoundMatchesEntitySentinel(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound("customer", 42))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, ErrCustomerNotFound))
	assert.False(t, errors.Is(err, ErrProductNotFound))
	assert.Equal(t, fiber.StatusNotFound, HTTPStatus(err))
}

func TestGatewayErrorDeclined(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrPaymentFailed, &GatewayError{Provider: "square", Code: "CARD_DECLINED", Declined: true})

	assert.True(t, errors.Is(err, ErrPaymentFailed))
	assert.True(t, errors.Is(err, ErrGateway))
	assert.True(t, errors.Is(err, ErrPaymentDeclined))

	var gwErr *GatewayError
	assert.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "CARD_DECLINED", gwErr.Code)
	assert.Equal(t, fiber.StatusInternalServerError, HTTPStatus(err))
}

func TestValidationErrorMessage(t *testing.T) {
	err := Validation("sourceId", "is required").Add("amount", "must be positive")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "validation failed: amount: must be positive; sourceId: is required", err.Error())
	assert.Equal(t, fiber.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, fiber.StatusOK, HTTPStatus(nil))
	assert.Equal(t, fiber.StatusUnauthorized, HTTPStatus(&SignatureError{Provider: "square", Reason: "mismatch"}))
	assert.Equal(t, fiber.StatusConflict, HTTPStatus(&ConflictError{Entity: "order", From: "delivered", To: "pending"}))
	assert.Equal(t, fiber.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestValidateStruct(t *testing.T) {
	type request struct {
		Email  string `json:"customerEmail" validate:"required,email"`
		Type   string `json:"type" validate:"required,oneof=one-time subscription"`
		Amount int64  `json:"amount" validate:"gt=0"`
	}

	err := ValidateStruct(request{Email: "nope", Type: "weekly"})
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
	assert.Equal(t, "must be a valid email address", vErr.Fields["customerEmail"])
	assert.Equal(t, "must be one of: one-time subscription", vErr.Fields["type"])
	assert.Equal(t, "must be greater than 0", vErr.Fields["amount"])

	assert.NoError(t, ValidateStruct(request{Email: "a@b.co", Type: "one-time", Amount: 1}))
}
