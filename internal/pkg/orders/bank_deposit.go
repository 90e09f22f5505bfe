package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/catalog"
	"github.com/agistaffers/backoffice/internal/pkg/notify"
	"github.com/agistaffers/backoffice/internal/pkg/receipts"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BankDepositInput is a customer's proof of a manual transfer. Amount is a
// decimal string such as "299.99".
type BankDepositInput struct {
	CustomerID           uint   `json:"customerId"`
	BankName             string `json:"bankName" validate:"required,max=150"`
	Amount               string `json:"amount" validate:"required"`
	Currency             string `json:"currency" validate:"omitempty,len=3"`
	TransactionReference string `json:"transactionReference" validate:"max=191"`
	Notes                string `json:"notes" validate:"max=2000"`
	OrderID              *uint  `json:"orderId"`
	Receipt              []byte `json:"-"`
}

// SubmitBankDeposit records a pending deposit and its pending invoice. Nothing
// is written for an unknown customer.
func (s *Service) SubmitBankDeposit(ctx context.Context, in BankDepositInput) (*models.BankDeposit, error) {
	if err := apperrors.ValidateStruct(in); err != nil {
		return nil, err
	}
	amount, err := catalog.ParseMinorUnits(in.Amount)
	if err != nil {
		return nil, apperrors.Validation("amount", "must be a decimal amount with at most two decimals")
	}
	if amount <= 0 {
		return nil, apperrors.Validation("amount", "must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = catalog.DefaultCurrency
	}

	customer, err := s.loadCustomer(ctx, s.repos, in.CustomerID)
	if err != nil {
		return nil, err
	}
	var order *models.Order
	if in.OrderID != nil {
		order, err = s.loadOrder(ctx, s.repos, *in.OrderID)
		if err != nil {
			return nil, err
		}
		if order.CustomerID != customer.ID {
			return nil, apperrors.Validation("orderId", "does not belong to this customer")
		}
		if order.Status != models.OrderStatusPendingDeposit {
			return nil, &apperrors.ConflictError{Entity: "order", From: order.Status, To: "deposit submitted"}
		}
	}

	now := s.now()
	reference := s.bank.NewReferenceCode(now)
	if order != nil && order.MetaString("deposit_reference") != "" {
		reference = order.MetaString("deposit_reference")
	}

	var stored *receipts.Stored
	if len(in.Receipt) > 0 {
		if s.receipts == nil {
			return nil, errors.New("receipt storage is not configured")
		}
		st, err := receipts.Put(ctx, s.receipts, now, reference+"-"+shortID(), in.Receipt)
		if err != nil {
			return nil, err
		}
		stored = &st
	}

	deposit := &models.BankDeposit{
		ReferenceCode:        reference,
		CustomerID:           customer.ID,
		BankName:             strings.TrimSpace(in.BankName),
		Amount:               amount,
		Currency:             currency,
		DueDate:              s.bank.DueDate(now),
		TransactionReference: strings.TrimSpace(in.TransactionReference),
		Notes:                strings.TrimSpace(in.Notes),
		Status:               models.BankDepositStatusPending,
	}
	if stored != nil {
		deposit.ReceiptLocation = stored.Location
		deposit.ReceiptContentType = stored.ContentType
	}

	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		invoice, err := s.depositInvoice(ctx, tx, customer, order, amount, currency, deposit)
		if err != nil {
			return err
		}
		deposit.InvoiceID = invoice.ID
		if invoice.DueDate != nil {
			deposit.DueDate = *invoice.DueDate
		}
		if order != nil {
			orderID := order.ID
			deposit.OrderID = &orderID
			if order.MetaString("deposit_reference") != "" {
				// One order may receive several proofs; keep codes unique.
				deposit.ReferenceCode = reference + "-" + shortID()
			}
		}
		return tx.BankDeposit.Create(ctx, deposit)
	})
	if err != nil {
		if stored != nil {
			if derr := s.receipts.Delete(context.WithoutCancel(ctx), stored.Location); derr != nil {
				log.Warnf("[Orders] Failed to remove orphaned receipt %s: %v", stored.Location, derr)
			}
		}
		return nil, err
	}

	log.Infof("[Orders] Bank deposit %s submitted by customer %d (%d %s)", deposit.ReferenceCode, customer.ID, amount, currency)
	s.notifier.Notify(ctx, notify.Notification{
		Kind:  notify.KindBankDeposit,
		Title: "Bank deposit awaiting verification",
		Body:  fmt.Sprintf("%s submitted %s via %s (ref %s).", customer.Email, catalog.FormatPrice(amount, currency), deposit.BankName, deposit.ReferenceCode),
		Data: map[string]interface{}{
			"deposit_id":     deposit.ID,
			"reference_code": deposit.ReferenceCode,
			"status":         deposit.Status,
		},
	})
	return deposit, nil
}

// depositInvoice reuses the pending invoice of order, or opens a new one.
func (s *Service) depositInvoice(ctx context.Context, tx *repository.Repositories, customer *models.Customer, order *models.Order, amount int64, currency string, deposit *models.BankDeposit) (*models.Invoice, error) {
	if order != nil {
		invoice, err := tx.Invoice.GetLatestByOrderID(ctx, order.ID)
		if err == nil && invoice.Status == models.InvoiceStatusPending {
			return invoice, nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	due := deposit.DueDate
	invoice := &models.Invoice{
		InvoiceNumber: models.NewInvoiceNumber(s.now()),
		CustomerID:    customer.ID,
		Amount:        amount,
		Currency:      currency,
		Status:        models.InvoiceStatusPending,
		DueDate:       &due,
	}
	if order != nil {
		orderID := order.ID
		invoice.OrderID = &orderID
	}
	if err := tx.Invoice.Create(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

type VerifyResult struct {
	Deposit *models.BankDeposit
	Invoice *models.Invoice
	Order   *models.Order
}

// VerifyBankDeposit resolves a pending deposit. Approval pays the invoice and
// confirms the order (active for subscriptions); rejection fails both. A
// deposit can be resolved once.
func (s *Service) VerifyBankDeposit(ctx context.Context, depositID uint, approved bool) (*VerifyResult, error) {
	target, invoiceStatus := models.BankDepositStatusRejected, models.InvoiceStatusFailed
	if approved {
		target, invoiceStatus = models.BankDepositStatusVerified, models.InvoiceStatusPaid
	}

	res := &VerifyResult{}
	var product catalog.Product
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		deposit, err := tx.BankDeposit.GetByID(ctx, depositID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("bank deposit", depositID)
		}
		if err != nil {
			return err
		}
		if deposit.Status != models.BankDepositStatusPending {
			return &apperrors.ConflictError{Entity: "bank deposit", From: deposit.Status, To: target}
		}

		now := s.now()
		ok, err := tx.BankDeposit.Resolve(ctx, deposit.ID, target, &now)
		if err != nil {
			return err
		}
		if !ok {
			return &apperrors.ConflictError{Entity: "bank deposit", From: deposit.Status, To: target}
		}

		var paidAt *time.Time
		if approved {
			paidAt = &now
		}
		if _, err := tx.Invoice.CompareAndSetStatus(ctx, deposit.InvoiceID, models.InvoiceStatusPending, invoiceStatus, paidAt); err != nil {
			return err
		}
		if res.Invoice, err = tx.Invoice.GetByID(ctx, deposit.InvoiceID); err != nil {
			return err
		}
		if res.Deposit, err = tx.BankDeposit.GetByID(ctx, deposit.ID); err != nil {
			return err
		}

		orderID := deposit.OrderID
		if orderID == nil {
			orderID = res.Invoice.OrderID
		}
		if orderID == nil {
			return nil
		}
		order, err := s.loadOrder(ctx, tx, *orderID)
		if err != nil {
			return err
		}
		res.Order = order

		if !approved {
			if order.Status != models.OrderStatusPendingDeposit && order.Status != models.OrderStatusPending {
				// Settled some other way; the rejected proof does not undo that.
				return nil
			}
			_, err := s.transition(ctx, tx, order, Transition{
				To:     models.OrderStatusFailed,
				Fields: map[string]interface{}{"payment_status": models.PaymentStatusFailed},
				Meta:   map[string]interface{}{"deposit_rejected": deposit.ReferenceCode},
			})
			return err
		}

		t := Transition{
			To: PaidStatus(order),
			Fields: map[string]interface{}{
				"payment_status": models.PaymentStatusCompleted,
				"paid_at":        &now,
			},
			Meta: map[string]interface{}{"deposit_verified": deposit.ReferenceCode},
		}
		if order.IsSubscription() {
			if p, ok := catalog.Find(order.ProductID); ok {
				product = p
				next := nextBillingDate(p, now)
				t.Fields["next_billing_date"] = &next
			}
		}
		if _, err := s.transition(ctx, tx, order, t); err != nil {
			return err
		}
		if order.IsSubscription() && order.Status == models.OrderStatusActive {
			return s.activateCustomer(ctx, tx, order.CustomerID, product.Tier)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Orders] Bank deposit %s %s", res.Deposit.ReferenceCode, res.Deposit.Status)
	if customer, err := s.loadCustomer(ctx, s.repos, res.Deposit.CustomerID); err == nil {
		title, body := "Bank transfer confirmed", fmt.Sprintf("We received your transfer %s.", res.Deposit.ReferenceCode)
		if !approved {
			title, body = "Bank transfer rejected", fmt.Sprintf("We could not match your transfer %s. Please contact support.", res.Deposit.ReferenceCode)
		}
		s.notifier.Notify(ctx, notify.Notification{
			Kind:      notify.KindBankDeposit,
			Title:     title,
			Body:      body,
			Recipient: customer.Email,
			Data: map[string]interface{}{
				"deposit_id":     res.Deposit.ID,
				"reference_code": res.Deposit.ReferenceCode,
				"status":         res.Deposit.Status,
			},
		})
	}

	if approved && res.Order != nil && s.cfg.AutoDeliverInstant {
		if p, ok := catalog.Find(res.Order.ProductID); ok && p.Delivery == catalog.DeliveryInstant {
			if delivered, err := s.DeliverProduct(ctx, res.Order.ID); err != nil {
				log.Warnf("[Orders] Automatic delivery of %s failed: %v", res.Order.OrderNumber, err)
			} else {
				res.Order = delivered
			}
		}
	}
	return res, nil
}

// ExpiryResult summarises one ExpireOverdueDeposits pass.
type ExpiryResult struct {
	Expired int
	// AwaitingReview counts submitted deposits past their due date. They are
	// left for staff and never auto-rejected.
	AwaitingReview int
}

// ExpireOverdueDeposits fails bank deposit orders whose invoice is past due
// and for which the customer never submitted a transfer.
func (s *Service) ExpireOverdueDeposits(ctx context.Context) (ExpiryResult, error) {
	var res ExpiryResult
	now := s.now()

	invoices, err := s.repos.Invoice.ListOverdue(ctx, now, 100)
	if err != nil {
		return res, err
	}
	for i := range invoices {
		invoice := invoices[i]
		pending, err := s.repos.BankDeposit.CountPendingByInvoice(ctx, invoice.ID)
		if err != nil {
			return res, err
		}
		if pending > 0 {
			continue
		}

		err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
			ok, err := tx.Invoice.CompareAndSetStatus(ctx, invoice.ID, models.InvoiceStatusPending, models.InvoiceStatusFailed, nil)
			if err != nil || !ok {
				return err
			}
			order, err := s.loadOrder(ctx, tx, *invoice.OrderID)
			if err != nil {
				return err
			}
			if order.Status != models.OrderStatusPendingDeposit {
				return nil
			}
			_, err = s.transition(ctx, tx, order, Transition{
				To:     models.OrderStatusFailed,
				Fields: map[string]interface{}{"payment_status": models.PaymentStatusFailed},
				Meta:   map[string]interface{}{"payment_error_code": "DEPOSIT_OVERDUE"},
			})
			return err
		})
		if err != nil {
			return res, fmt.Errorf("failed to expire invoice %s: %w", invoice.InvoiceNumber, err)
		}
		res.Expired++
		log.Infof("[Orders] Invoice %s expired unpaid", invoice.InvoiceNumber)
	}

	overdue, err := s.repos.BankDeposit.ListOverdue(ctx, now, 100)
	if err != nil {
		return res, err
	}
	res.AwaitingReview = len(overdue)
	if res.AwaitingReview > 0 {
		log.Warnf("[Orders] %d bank deposit(s) past due are still awaiting verification", res.AwaitingReview)
	}
	return res, nil
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}
