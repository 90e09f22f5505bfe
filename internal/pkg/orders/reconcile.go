package orders

import (
	"context"
	"errors"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/gofiber/fiber/v2/log"
)

// DefaultStaleAfter is how long an order may stay pending before the
// reconciler looks at it.
const DefaultStaleAfter = 15 * time.Minute

type ReconcileResult struct {
	Checked   int
	Confirmed int
	Failed    int
	// Errors counts orders whose settlement could not be written; they stay
	// pending for the next pass.
	Errors    int
}

// ReconcileStaleOrders closes the window left by a crash between creating an
// order and recording its gateway result. Orders with a gateway payment id
// are re-queried; orders without one never reached the gateway and fail.
func (s *Service) ReconcileStaleOrders(ctx context.Context, olderThan time.Duration) (ReconcileResult, error) {
	var res ReconcileResult
	if olderThan <= 0 {
		olderThan = DefaultStaleAfter
	}

	stale, err := s.repos.Order.ListStalePending(ctx, s.olderThan(olderThan), 100)
	if err != nil {
		return res, err
	}

	for i := range stale {
		order := &stale[i]
		res.Checked++

		switch {
		case order.SubscriptionID != "":
			// Pending gateway subscription; its webhook settles it.
			continue
		case order.GatewayPaymentID == "":
			err := s.failOrder(ctx, order, order.Gateway, &apperrors.GatewayError{
				Provider: order.Gateway,
				Code:     "NO_GATEWAY_RESULT",
				Message:  "order never recorded a gateway payment",
			})
			s.countFailure(&res, order, err)
			continue
		}

		gw, ok := s.router.Get(order.Gateway)
		if !ok {
			log.Warnf("[Orders] Cannot reconcile %s: gateway %s not configured", order.OrderNumber, order.Gateway)
			continue
		}
		gctx, cancel := s.gatewayContext(ctx)
		payment, err := gw.GetPayment(gctx, order.GatewayPaymentID)
		cancel()
		if err != nil {
			log.Warnf("[Orders] Reconcile lookup of payment %s failed: %v", order.GatewayPaymentID, err)
			continue
		}

		switch payment.Status {
		case models.PaymentStatusCompleted:
			now := s.now()
			_, err := s.transition(ctx, s.repos, order, Transition{
				To: PaidStatus(order),
				Fields: map[string]interface{}{
					"payment_status": models.PaymentStatusCompleted,
					"paid_at":        &now,
				},
				Meta: map[string]interface{}{"reconciled_at": now.Format(time.RFC3339)},
			})
			if err != nil {
				return res, err
			}
			res.Confirmed++
		case models.PaymentStatusFailed:
			err := s.failOrder(ctx, order, gw.Name(), &apperrors.GatewayError{Provider: gw.Name(), Code: "PAYMENT_" + payment.RawStatus, Declined: true})
			s.countFailure(&res, order, err)
		}
	}

	if res.Checked > 0 {
		log.Infof("[Orders] Reconciled %d stale orders: %d confirmed, %d failed, %d errors", res.Checked, res.Confirmed, res.Failed, res.Errors)
	}
	return res, nil
}

// countFailure tallies the result of failOrder. A write error is logged and
// counted so one bad row does not stop the batch.
func (s *Service) countFailure(res *ReconcileResult, order *models.Order, err error) {
	switch {
	case err != nil && !isPaymentFailed(err):
		res.Errors++
		log.Errorf("[Orders] Reconcile could not fail order %s: %v", order.OrderNumber, err)
	case order.Status == models.OrderStatusFailed:
		res.Failed++
	}
}

func isPaymentFailed(err error) bool {
	return err != nil && errors.Is(err, apperrors.ErrPaymentFailed)
}
