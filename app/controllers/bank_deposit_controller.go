package controllers

import (
	"fmt"
	"io"

	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/orders"
	"github.com/agistaffers/backoffice/internal/pkg/receipts"
	"github.com/gofiber/fiber/v2"
)

// HandleSubmitBankDeposit takes the multipart proof-of-transfer form.
func (h *Handlers) HandleSubmitBankDeposit(c *fiber.Ctx) error {
	customerID, err := formUint(c, "customerId", true)
	if err != nil {
		return respondError(c, err, "")
	}
	orderID, err := formUint(c, "orderId", false)
	if err != nil {
		return respondError(c, err, "")
	}

	in := orders.BankDepositInput{
		CustomerID:           *customerID,
		BankName:             c.FormValue("bankName"),
		Amount:               c.FormValue("amount"),
		Currency:             c.FormValue("currency"),
		TransactionReference: c.FormValue("transactionReference"),
		Notes:                c.FormValue("notes"),
		OrderID:              orderID,
	}

	if file, err := c.FormFile("receipt"); err == nil {
		if file.Size > receipts.MaxSize {
			return respondError(c, apperrors.Validation("receipt", fmt.Sprintf("must not exceed %d MiB", receipts.MaxSize>>20)), "")
		}
		f, err := file.Open()
		if err != nil {
			return respondError(c, err, "Could not read the receipt")
		}
		in.Receipt, err = io.ReadAll(io.LimitReader(f, receipts.MaxSize+1))
		_ = f.Close()
		if err != nil {
			return respondError(c, err, "Could not read the receipt")
		}
	}

	deposit, err := h.Orders.SubmitBankDeposit(c.UserContext(), in)
	if err != nil {
		return respondError(c, err, "Bank deposit could not be recorded")
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"depositId":     deposit.ID,
		"referenceCode": deposit.ReferenceCode,
		"dueDate":       deposit.DueDate,
		"message":       "Bank deposit submitted. We will confirm it once the transfer is verified.",
	})
}

type verifyDepositRequest struct {
	Approved *bool `json:"approved" validate:"required"`
}

// HandleVerifyBankDeposit resolves a pending deposit (admin).
func (h *Handlers) HandleVerifyBankDeposit(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err, "")
	}
	var req verifyDepositRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, badBody(), "")
	}
	if err := apperrors.ValidateStruct(req); err != nil {
		return respondError(c, err, "")
	}

	res, err := h.Orders.VerifyBankDeposit(c.UserContext(), id, *req.Approved)
	if err != nil {
		return respondError(c, err, "Bank deposit could not be verified")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"deposit": res.Deposit,
		"invoice": res.Invoice,
		"order":   res.Order,
	})
}

// HandleListBankDeposits pages through deposits, newest first (admin).
func (h *Handlers) HandleListBankDeposits(c *fiber.Ctx) error {
	offset, limit := pageParams(c)
	deposits, total, err := h.Repos.BankDeposit.List(c.UserContext(), c.Query("status"), offset, limit)
	if err != nil {
		return respondError(c, err, "Failed to load bank deposits")
	}
	return c.JSON(fiber.Map{"success": true, "deposits": deposits, "total": total, "offset": offset, "limit": limit})
}

func pageParams(c *fiber.Ctx) (offset, limit int) {
	limit = c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset = c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}
