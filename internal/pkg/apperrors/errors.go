// Package apperrors holds the error taxonomy shared by services and controllers.
package apperrors

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflicting state transition")
	ErrSignature  = errors.New("webhook signature verification failed")
	ErrGateway    = errors.New("payment gateway error")

	ErrProductNotFound  = fmt.Errorf("product %w", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("customer %w", ErrNotFound)
	ErrOrderNotFound    = fmt.Errorf("order %w", ErrNotFound)
	ErrDepositNotFound  = fmt.Errorf("bank deposit %w", ErrNotFound)

	// ErrPaymentFailed is returned by the order service after the order was marked failed.
	ErrPaymentFailed   = errors.New("payment failed")
	ErrPaymentDeclined = errors.New("payment declined")
)

// ValidationError carries field-level messages for 4xx responses.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Add records a message for field and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = message
	return e
}

func (e *ValidationError) HasErrors() bool { return len(e.Fields) > 0 }

// Validation builds a single-field ValidationError.
func Validation(field, message string) *ValidationError {
	return (&ValidationError{}).Add(field, message)
}

// NotFoundError names the missing entity. Is() matches ErrNotFound and the
// entity specific sentinel.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return true
	case ErrProductNotFound:
		return e.Entity == "product"
	case ErrCustomerNotFound:
		return e.Entity == "customer"
	case ErrOrderNotFound:
		return e.Entity == "order"
	case ErrDepositNotFound:
		return e.Entity == "bank deposit"
	}
	return false
}

func NotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// GatewayError keeps the provider's raw diagnostics. Never render Message to end users.
type GatewayError struct {
	Provider   string
	Code       string
	Category   string
	Message    string
	StatusCode int
	Declined   bool
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s gateway error [%s]", e.Provider, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool {
	if target == ErrGateway {
		return true
	}
	return target == ErrPaymentDeclined && e.Declined
}

// SignatureError is returned for unauthenticated webhook deliveries.
type SignatureError struct {
	Provider string
	Reason   string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrSignature.Error(), e.Reason, e.Provider)
}

func (e *SignatureError) Is(target error) bool { return target == ErrSignature }

// ConflictError is an illegal transition, e.g. leaving a terminal order status.
type ConflictError struct {
	Entity string
	From   string
	To     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s cannot move from %q to %q", e.Entity, e.From, e.To)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// HTTPStatus maps an error from the taxonomy to a response code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrSignature):
		return fiber.StatusUnauthorized
	case errors.Is(err, ErrConflict):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
