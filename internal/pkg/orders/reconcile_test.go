package orders

import (
	"errors"
	"testing"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/billing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func (s *fixture) stalePending(customerID uint, age time.Duration, paymentID, subscriptionID string) *models.Order {
	s.t.Helper()
	o := &models.Order{
		OrderNumber:      models.NewOrderNumber(time.Now()),
		CustomerID:       customerID,
		ProductID:        "ai-assistant-starter",
		ProductName:      "AI Assistant Starter",
		UnitPrice:        4999,
		Quantity:         1,
		Amount:           4999,
		Currency:         "USD",
		OrderType:        models.OrderTypeOneTime,
		PaymentMethod:    models.PaymentMethodCard,
		Gateway:          models.ProviderSquare,
		PaymentStatus:    models.PaymentStatusPending,
		Status:           models.OrderStatusPending,
		GatewayPaymentID: paymentID,
		SubscriptionID:   subscriptionID,
		CreatedAt:        time.Now().UTC().Add(-age),
	}
	require.NoError(s.t, s.repos.Order.Create(s.ctx, o))
	return o
}

func TestReconcileStaleOrders(t *testing.T) {
	s := newFixture(t)
	c := s.customer("reconcile@example.com", "US")

	s.gateway.Payments["pay_done"] = &billing.Payment{ID: "pay_done", Status: models.PaymentStatusCompleted, RawStatus: "COMPLETED"}
	s.gateway.Payments["pay_failed"] = &billing.Payment{ID: "pay_failed", Status: models.PaymentStatusFailed, RawStatus: "FAILED"}

	crashed := s.stalePending(c.ID, time.Hour, "", "")
	completed := s.stalePending(c.ID, time.Hour, "pay_done", "")
	declined := s.stalePending(c.ID, time.Hour, "pay_failed", "")
	subscription := s.stalePending(c.ID, time.Hour, "", "sub_pending")
	fresh := s.stalePending(c.ID, time.Minute, "", "")

	res, err := s.svc.ReconcileStaleOrders(s.ctx, DefaultStaleAfter)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Checked: 4, Confirmed: 1, Failed: 2}, res)

	failed := s.reload(crashed.ID)
	assert.Equal(t, models.OrderStatusFailed, failed.Status)
	assert.Equal(t, "NO_GATEWAY_RESULT", failed.MetaString("payment_error_code"))

	confirmed := s.reload(completed.ID)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)
	assert.NotEmpty(t, confirmed.MetaString("reconciled_at"))

	assert.Equal(t, models.OrderStatusFailed, s.reload(declined.ID).Status)
	assert.Equal(t, models.OrderStatusPending, s.reload(subscription.ID).Status)
	assert.Equal(t, models.OrderStatusPending, s.reload(fresh.ID).Status)

	// A second pass finds nothing left to do.
	res, err = s.svc.ReconcileStaleOrders(s.ctx, DefaultStaleAfter)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Checked: 1}, res)
}

func TestReconcileCountsWriteErrors(t *testing.T) {
	s := newFixture(t)
	c := s.customer("reconcile-errors@example.com", "US")
	s.gateway.Payments["pay_declined"] = &billing.Payment{ID: "pay_declined", Status: models.PaymentStatusFailed, RawStatus: "DECLINED"}
	declined := s.stalePending(c.ID, time.Hour, "pay_declined", "")
	crashed := s.stalePending(c.ID, time.Hour, "", "")

	failWrites := true
	err := s.repos.DB().Callback().Update().Before("gorm:update").Register("test:fail_writes", func(tx *gorm.DB) {
		if failWrites {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	require.NoError(t, err)

	res, err := s.svc.ReconcileStaleOrders(s.ctx, DefaultStaleAfter)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Checked: 2, Errors: 2}, res)
	assert.Equal(t, models.OrderStatusPending, s.reload(declined.ID).Status)
	assert.Equal(t, models.OrderStatusPending, s.reload(crashed.ID).Status)

	// Both are retried once writes succeed again.
	failWrites = false
	res, err = s.svc.ReconcileStaleOrders(s.ctx, DefaultStaleAfter)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Checked: 2, Failed: 2}, res)
}
