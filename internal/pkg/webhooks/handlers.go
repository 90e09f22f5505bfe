package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/billing"
	"github.com/agistaffers/backoffice/internal/pkg/catalog"
	"github.com/agistaffers/backoffice/internal/pkg/notify"
	"github.com/agistaffers/backoffice/internal/pkg/orders"
	"gorm.io/gorm"
)

func (s *Service) transition(ctx context.Context, tx *repository.Repositories, order *models.Order, t orders.Transition) (orders.Outcome, error) {
	outcome, err := orders.ApplyTransition(ctx, tx.Order, order, t)
	if err != nil {
		return "", err
	}
	s.metrics.OrderTransition(t.To, string(outcome))
	return outcome, nil
}

// paymentOrder finds the order by gateway payment id, then by the order
// number the gateway echoes back as reference id. nil means no match.
func paymentOrder(ctx context.Context, tx *repository.Repositories, paymentID, referenceID string) (*models.Order, error) {
	if paymentID != "" {
		order, err := tx.Order.GetByGatewayPaymentID(ctx, paymentID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if referenceID != "" {
		order, err := tx.Order.GetByOrderNumber(ctx, referenceID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func subscriptionOrder(ctx context.Context, tx *repository.Repositories, subscriptionID string) (*models.Order, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	order, err := tx.Order.GetBySubscriptionID(ctx, subscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return order, err
}

func (s *Service) applyPayment(ctx context.Context, tx *repository.Repositories, ev *billing.Event, eff *effect) error {
	order, err := paymentOrder(ctx, tx, ev.PaymentID, ev.ReferenceID)
	if err != nil {
		return err
	}
	if order == nil {
		eff.ignore("no order for payment %s (reference %q)", ev.PaymentID, ev.ReferenceID)
		return nil
	}

	now := s.now()
	fields := map[string]interface{}{}
	if order.GatewayPaymentID == "" && ev.PaymentID != "" {
		fields["gateway_payment_id"] = ev.PaymentID
	}
	meta := map[string]interface{}{"last_webhook_event": ev.ID}
	if ev.CardLast4 != "" {
		meta["card_last4"] = ev.CardLast4
	}

	switch ev.PaymentStatus {
	case models.PaymentStatusCompleted:
		fields["payment_status"] = models.PaymentStatusCompleted
		if order.PaidAt == nil {
			fields["paid_at"] = &now
		}
		outcome, err := s.transition(ctx, tx, order, orders.Transition{
			To:               orders.PaidStatus(order),
			Fields:           fields,
			Meta:             meta,
			WriteIfUnchanged: true,
		})
		if err != nil {
			var conflict *apperrors.ConflictError
			if errors.As(err, &conflict) {
				// Money was taken for an order we closed; someone has to refund or reopen it.
				eff.alerts = append(eff.alerts, notify.Notification{
					Kind:  notify.KindAlert,
					Title: "Captured payment on closed order",
					Body: fmt.Sprintf("Payment %s of %s was captured for order %s, which is %s.",
						ev.PaymentID, catalog.FormatPrice(order.Amount, order.Currency), order.OrderNumber, order.Status),
					Data: map[string]interface{}{
						"order_number": order.OrderNumber,
						"status":       order.Status,
						"payment_id":   ev.PaymentID,
						"source":       "webhook",
					},
				})
			}
			return err
		}
		if outcome == orders.OutcomeStale {
			eff.note = fmt.Sprintf("order %s is already %s", order.OrderNumber, order.Status)
		}
		if err := s.issuePaidInvoice(ctx, tx, order, ev, now); err != nil {
			return err
		}
		if outcome != orders.OutcomeApplied {
			return nil
		}
		if order.IsSubscription() {
			if err := activateCustomer(ctx, tx, order); err != nil {
				return err
			}
		}
		return s.noticeOrder(ctx, tx, eff, order, "Payment received",
			fmt.Sprintf("We received %s for %s (order %s).", catalog.FormatPrice(order.Amount, order.Currency), order.ProductName, order.OrderNumber))

	case models.PaymentStatusFailed:
		fields["payment_status"] = models.PaymentStatusFailed
		meta["payment_error_code"] = "PAYMENT_FAILED"
		meta["failed_at"] = now.Format(time.RFC3339)
		outcome, err := s.transition(ctx, tx, order, orders.Transition{To: models.OrderStatusFailed, Fields: fields, Meta: meta})
		if err != nil || outcome != orders.OutcomeApplied {
			return err
		}
		return s.noticeOrder(ctx, tx, eff, order, "Payment failed",
			fmt.Sprintf("The payment for order %s did not go through.", order.OrderNumber))

	case models.PaymentStatusAuthorized, models.PaymentStatusPending:
		// Only a still-pending order learns about an in-flight payment.
		if order.Status != models.OrderStatusPending {
			eff.note = fmt.Sprintf("order %s is already %s", order.OrderNumber, order.Status)
			return nil
		}
		fields["payment_status"] = ev.PaymentStatus
		_, err := s.transition(ctx, tx, order, orders.Transition{
			To:               models.OrderStatusPending,
			Fields:           fields,
			Meta:             meta,
			WriteIfUnchanged: true,
		})
		return err
	}
	eff.ignore("payment status %q is not tracked", ev.PaymentStatus)
	return nil
}

// issuePaidInvoice records one paid invoice per gateway payment.
func (s *Service) issuePaidInvoice(ctx context.Context, tx *repository.Repositories, order *models.Order, ev *billing.Event, now time.Time) error {
	ref := ev.PaymentID
	if ref == "" {
		ref = order.GatewayPaymentID
	}
	if ref == "" {
		return nil
	}
	amount, currency := ev.Amount, ev.Currency
	if amount <= 0 {
		amount = order.Amount
	}
	if currency == "" {
		currency = order.Currency
	}
	orderID := order.ID
	_, err := tx.Invoice.CreateIfNotExists(ctx, &models.Invoice{
		InvoiceNumber: models.NewInvoiceNumber(now),
		CustomerID:    order.CustomerID,
		OrderID:       &orderID,
		Amount:        amount,
		Currency:      currency,
		Status:        models.InvoiceStatusPaid,
		PaidAt:        &now,
		ExternalRef:   &ref,
	})
	return err
}

func (s *Service) applySubscription(ctx context.Context, tx *repository.Repositories, ev *billing.Event, eff *effect) error {
	order, err := subscriptionOrder(ctx, tx, ev.SubscriptionID)
	if err != nil {
		return err
	}
	if order == nil {
		eff.ignore("no order for subscription %s", ev.SubscriptionID)
		return nil
	}

	status := ev.SubscriptionStatus
	if ev.Type == billing.EventSubscriptionCanceled {
		status = billing.SubscriptionCanceled
	}
	meta := map[string]interface{}{
		"gateway_subscription_status": status,
		"last_webhook_event":          ev.ID,
	}

	switch status {
	case billing.SubscriptionCanceled:
		meta["cancelled_at"] = s.now().Format(time.RFC3339)
		outcome, err := s.transition(ctx, tx, order, orders.Transition{To: models.OrderStatusCancelled, Meta: meta})
		if err != nil || outcome != orders.OutcomeApplied {
			return err
		}
		demoted, err := orders.DemoteIfLastSubscription(ctx, tx, order.CustomerID, order.ID)
		if err != nil {
			return err
		}
		if demoted {
			eff.note = fmt.Sprintf("customer %d has no active subscription left", order.CustomerID)
		}
		return s.noticeOrder(ctx, tx, eff, order, "Subscription cancelled",
			fmt.Sprintf("Your %s subscription has been cancelled.", order.ProductName))

	case billing.SubscriptionActive:
		now := s.now()
		fields := map[string]interface{}{"payment_status": models.PaymentStatusCompleted}
		if order.PaidAt == nil {
			fields["paid_at"] = &now
		}
		outcome, err := s.transition(ctx, tx, order, orders.Transition{
			To:               models.OrderStatusActive,
			Fields:           fields,
			Meta:             meta,
			WriteIfUnchanged: true,
		})
		if err != nil {
			return err
		}
		if err := activateCustomer(ctx, tx, order); err != nil {
			return err
		}
		if outcome != orders.OutcomeApplied {
			return nil
		}
		return s.noticeOrder(ctx, tx, eff, order, "Subscription active",
			fmt.Sprintf("Your %s subscription is active.", order.ProductName))

	case billing.SubscriptionPastDue:
		if _, err := s.transition(ctx, tx, order, orders.Transition{To: order.Status, Meta: meta, WriteIfUnchanged: true}); err != nil {
			return err
		}
		if order.Status != models.OrderStatusActive {
			return nil
		}
		if err := tx.Customer.UpdateStatus(ctx, order.CustomerID, models.CustomerStatusPaymentFailed); err != nil {
			return err
		}
		return s.noticeOrder(ctx, tx, eff, order, "Subscription payment past due",
			fmt.Sprintf("We could not collect the latest payment for %s. Please update your card.", order.ProductName))
	}

	_, err = s.transition(ctx, tx, order, orders.Transition{To: order.Status, Meta: meta, WriteIfUnchanged: true})
	return err
}

// activateCustomer restores an active status and the plan tier unless the
// order has been cancelled in the meantime.
func activateCustomer(ctx context.Context, tx *repository.Repositories, order *models.Order) error {
	if order.Status != models.OrderStatusActive {
		return nil
	}
	if err := tx.Customer.UpdateStatus(ctx, order.CustomerID, models.CustomerStatusActive); err != nil {
		return err
	}
	if p, ok := catalog.Find(order.ProductID); ok {
		return tx.Customer.UpdatePlanTier(ctx, order.CustomerID, p.Tier)
	}
	return nil
}

func (s *Service) applyInvoicePayment(ctx context.Context, tx *repository.Repositories, ev *billing.Event, eff *effect) error {
	if ev.InvoiceID == "" {
		eff.ignore("invoice event without invoice id")
		return nil
	}

	invoice, err := tx.Invoice.GetByExternalRef(ctx, ev.InvoiceID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err != nil {
		invoice = nil
	}

	var order *models.Order
	switch {
	case invoice != nil && invoice.OrderID != nil:
		order, err = tx.Order.GetByID(ctx, *invoice.OrderID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	case invoice == nil:
		if order, err = subscriptionOrder(ctx, tx, ev.SubscriptionID); err != nil {
			return err
		}
		if order == nil {
			eff.ignore("no invoice or subscription for %s", ev.InvoiceID)
			return nil
		}
	}

	now := s.now()
	// The order moves first so a conflict leaves the invoice untouched.
	if order != nil {
		fields := map[string]interface{}{"payment_status": models.PaymentStatusCompleted}
		if order.PaidAt == nil {
			fields["paid_at"] = &now
		}
		if order.IsSubscription() {
			next := nextBillingDate(order.ProductID, now)
			fields["next_billing_date"] = &next
		}
		outcome, err := s.transition(ctx, tx, order, orders.Transition{
			To:               orders.PaidStatus(order),
			Fields:           fields,
			Meta:             map[string]interface{}{"last_invoice_paid": ev.InvoiceID},
			WriteIfUnchanged: true,
		})
		if err != nil {
			return err
		}
		if outcome == orders.OutcomeApplied && order.IsSubscription() {
			if err := activateCustomer(ctx, tx, order); err != nil {
				return err
			}
		}
	}

	if invoice == nil {
		ref := ev.InvoiceID
		orderID := order.ID
		amount, currency := ev.Amount, ev.Currency
		if amount <= 0 {
			amount = order.Amount
		}
		if currency == "" {
			currency = order.Currency
		}
		_, err := tx.Invoice.CreateIfNotExists(ctx, &models.Invoice{
			InvoiceNumber: models.NewInvoiceNumber(now),
			CustomerID:    order.CustomerID,
			OrderID:       &orderID,
			Amount:        amount,
			Currency:      currency,
			Status:        models.InvoiceStatusPaid,
			PaidAt:        &now,
			ExternalRef:   &ref,
		})
		return err
	}
	if invoice.Status == models.InvoiceStatusPaid {
		return nil
	}
	ok, err := tx.Invoice.CompareAndSetStatus(ctx, invoice.ID, invoice.Status, models.InvoiceStatusPaid, &now)
	if err != nil {
		return err
	}
	if !ok {
		eff.note = fmt.Sprintf("invoice %s changed concurrently", invoice.InvoiceNumber)
	}
	return nil
}

func nextBillingDate(productID string, from time.Time) time.Time {
	if p, ok := catalog.Find(productID); ok && p.BillingPeriod == catalog.PeriodYear {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// applyRefund records the refund and flags the order for manual review. The
// order status never changes.
func (s *Service) applyRefund(ctx context.Context, tx *repository.Repositories, ev *billing.Event, eff *effect) error {
	if ev.RefundID == "" {
		eff.ignore("refund event without refund id")
		return nil
	}
	order, err := paymentOrder(ctx, tx, ev.PaymentID, "")
	if err != nil {
		return err
	}

	refund := &models.Refund{
		Provider:         ev.Provider,
		ProviderRefundID: ev.RefundID,
		GatewayPaymentID: ev.PaymentID,
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		Status:           ev.RefundStatus,
		Reason:           ev.RefundReason,
	}
	if refund.Currency == "" {
		refund.Currency = catalog.DefaultCurrency
	}
	if order != nil {
		orderID := order.ID
		refund.OrderID = &orderID
		if ev.Currency == "" {
			refund.Currency = order.Currency
		}
	}
	created, err := tx.Refund.CreateIfNotExists(ctx, refund)
	if err != nil {
		return err
	}
	if !created {
		eff.note = fmt.Sprintf("refund %s already recorded", ev.RefundID)
		return nil
	}
	if order == nil {
		eff.note = fmt.Sprintf("refund %s for unknown payment %s", ev.RefundID, ev.PaymentID)
		return nil
	}

	if _, err := s.transition(ctx, tx, order, orders.Transition{
		To: order.Status,
		Meta: map[string]interface{}{
			"refund_id":     ev.RefundID,
			"refund_status": ev.RefundStatus,
			"refund_amount": ev.Amount,
			"refund_review": true,
		},
		WriteIfUnchanged: true,
	}); err != nil {
		return err
	}
	eff.notices = append(eff.notices, notify.Notification{
		Kind:  notify.KindOrderStatus,
		Title: "Refund needs review",
		Body:  fmt.Sprintf("%s refunded for order %s (refund %s).", catalog.FormatPrice(ev.Amount, refund.Currency), order.OrderNumber, ev.RefundID),
		Data: map[string]interface{}{
			"order_number": order.OrderNumber,
			"refund_id":    ev.RefundID,
			"status":       ev.RefundStatus,
		},
	})
	return nil
}

// noticeOrder queues a customer notification to send after commit.
func (s *Service) noticeOrder(ctx context.Context, tx *repository.Repositories, eff *effect, order *models.Order, title, body string) error {
	var email string
	customer, err := tx.Customer.GetByID(ctx, order.CustomerID)
	switch {
	case err == nil:
		email = customer.Email
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	kind := notify.KindOrderStatus
	if order.IsSubscription() {
		kind = notify.KindSubscription
	}
	eff.notices = append(eff.notices, notify.Notification{
		Kind:      kind,
		Title:     title,
		Body:      body,
		Recipient: email,
		Data: map[string]interface{}{
			"order_number":   order.OrderNumber,
			"status":         order.Status,
			"payment_status": order.PaymentStatus,
			"source":         "webhook",
		},
	})
	return nil
}
