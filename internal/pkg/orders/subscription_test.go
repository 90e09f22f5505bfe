package orders

import (
	"errors"
	"testing"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/app/repository"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *fixture) subscribe(customerID uint, planID, card string) *models.Order {
	s.t.Helper()
	order, err := s.svc.CreateSubscription(s.ctx, SubscriptionInput{
		CustomerID:    customerID,
		PlanID:        planID,
		PaymentMethod: models.PaymentMethodCard,
		CardReference: card,
	})
	require.NoError(s.t, err)
	return order
}

func TestCardSubscriptionActivatesCustomer(t *testing.T) {
	s := newFixture(t)
	c := s.customer("sub@example.com", "US")
	s.mapPlan("ai-assistant-pro", "PLAN_PRO_M")

	order := s.subscribe(c.ID, "ai-assistant-pro", "cnon:card-nonce-ok")
	assert.Equal(t, models.OrderStatusActive, order.Status)
	assert.Equal(t, models.PaymentStatusCompleted, order.PaymentStatus)
	assert.Equal(t, models.OrderTypeSubscription, order.OrderType)
	assert.Equal(t, int64(9999), order.Amount)
	assert.NotEmpty(t, order.SubscriptionID)
	assert.NotNil(t, order.NextBillingDate)
	assert.Equal(t, "PLAN_PRO_M", order.MetaString("gateway_plan_ref"))
	assert.Equal(t, "1111", order.MetaString("card_last4"))
	assert.Equal(t, "PLAN_PRO_M", s.gateway.Subscriptions[order.SubscriptionID].PlanRef)

	stored, err := s.repos.Customer.GetByID(s.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", stored.PlanTier)
	assert.Equal(t, models.CustomerStatusActive, stored.Status)
	assert.Contains(t, s.notifier.titles(), "Subscription active")
}

func TestDuplicateSubscriptionIsFlaggedNotRejected(t *testing.T) {
	s := newFixture(t)
	c := s.customer("dup@example.com", "US")
	s.mapPlan("ai-assistant-pro", "PLAN_PRO_M")

	first := s.subscribe(c.ID, "ai-assistant-pro", "cnon:card-nonce-ok")
	assert.Empty(t, first.MetaString("duplicate_subscription"))

	// The second one bills the stored card.
	second := s.subscribe(c.ID, "ai-assistant-pro", "")
	assert.Equal(t, models.OrderStatusActive, second.Status)
	assert.Equal(t, "true", second.MetaString("duplicate_subscription"))
	assert.Equal(t, 1, s.gateway.CallCount("CreateCard"))
}

func TestSubscriptionWithoutPlanMapping(t *testing.T) {
	s := newFixture(t)
	c := s.customer("unmapped@example.com", "US")

	_, err := s.svc.CreateSubscription(s.ctx, SubscriptionInput{CustomerID: c.ID, PlanID: "ai-assistant-pro", PaymentMethod: models.PaymentMethodCard, CardReference: "tok"})
	var gwErr *apperrors.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "NOT_CONFIGURED", gwErr.Code)

	_, total, err := s.repos.Order.List(s.ctx, repository.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, s.gateway.CallCount("CreateSubscription"))
}

func TestSubscriptionNeedsCard(t *testing.T) {
	s := newFixture(t)
	c := s.customer("nocard@example.com", "US")
	s.mapPlan("ai-assistant-pro", "PLAN_PRO_M")

	_, err := s.svc.CreateSubscription(s.ctx, SubscriptionInput{CustomerID: c.ID, PlanID: "ai-assistant-pro", PaymentMethod: models.PaymentMethodCard})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = s.svc.CreateSubscription(s.ctx, SubscriptionInput{CustomerID: c.ID, PlanID: "ai-assistant-starter", PaymentMethod: models.PaymentMethodCard, CardReference: "tok"})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, total, err := s.repos.Order.List(s.ctx, repository.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestBankDepositSubscription(t *testing.T) {
	s := newFixture(t)
	c := s.customer("th-sub@example.com", "TH")

	order, err := s.svc.CreateSubscription(s.ctx, SubscriptionInput{CustomerID: c.ID, PlanID: "managed-hosting"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPendingDeposit, order.Status)
	assert.Equal(t, "manual", order.MetaString("subscription_mode"))
	assert.Equal(t, ManualSubscriptionPrefix+order.OrderNumber, order.SubscriptionID)
	assert.Zero(t, s.gateway.CallCount("CreateSubscription"))
}

func TestCancelBankDepositSubscriptionDemotesCustomer(t *testing.T) {
	s := newFixture(t)
	c, order := s.depositOrder("th-cancel@example.com", "managed-hosting")

	deposit, err := s.svc.SubmitBankDeposit(s.ctx, BankDepositInput{CustomerID: c.ID, BankName: "SCB", Amount: "49.00", OrderID: &order.ID})
	require.NoError(t, err)
	res, err := s.svc.VerifyBankDeposit(s.ctx, deposit.ID, true)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusActive, res.Order.Status)

	cancelled, err := s.svc.CancelSubscription(s.ctx, order.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Zero(t, s.gateway.CallCount("CancelSubscription"))

	stored, err := s.repos.Customer.GetByID(s.ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.PlanTier)
	assert.Equal(t, models.CustomerStatusCancelled, stored.Status)

	_, err = s.svc.CancelSubscription(s.ctx, "")
	assert.Error(t, err)
}

func TestSubscriptionFailsWhenGatewayRejects(t *testing.T) {
	s := newFixture(t)
	c := s.customer("sub-fail@example.com", "US")
	s.mapPlan("ai-assistant-pro", "PLAN_PRO_M")
	s.gateway.SubscribeErr = &apperrors.GatewayError{Provider: models.ProviderSquare, Code: "INVALID_CARD", Declined: true}

	_, err := s.svc.CreateSubscription(s.ctx, SubscriptionInput{CustomerID: c.ID, PlanID: "ai-assistant-pro", PaymentMethod: models.PaymentMethodCard, CardReference: "tok"})
	assert.True(t, errors.Is(err, apperrors.ErrPaymentFailed))

	orders, _, err := s.repos.Order.List(s.ctx, repository.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusFailed, orders[0].Status)
	assert.Equal(t, "INVALID_CARD", orders[0].MetaString("payment_error_code"))
}

func TestCancelSubscriptionDemotesOnLastOnly(t *testing.T) {
	s := newFixture(t)
	c := s.customer("cancel@example.com", "US")
	s.mapPlan("ai-assistant-pro", "PLAN_PRO_M")
	s.mapPlan("managed-hosting", "PLAN_HOST_M")

	pro := s.subscribe(c.ID, "ai-assistant-pro", "cnon:card-nonce-ok")
	hosting := s.subscribe(c.ID, "managed-hosting", "")

	// The gateway being down does not block the local cancellation.
	s.gateway.CancelErr = &apperrors.GatewayError{Provider: models.ProviderSquare, Code: "SERVICE_UNAVAILABLE", StatusCode: 503}
	cancelled, err := s.svc.CancelSubscription(s.ctx, pro.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "SERVICE_UNAVAILABLE", cancelled.MetaString("gateway_cancel_error"))

	stored, err := s.repos.Customer.GetByID(s.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CustomerStatusActive, stored.Status)

	s.gateway.CancelErr = nil
	_, err = s.svc.CancelSubscription(s.ctx, hosting.SubscriptionID)
	require.NoError(t, err)

	stored, err = s.repos.Customer.GetByID(s.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CustomerStatusCancelled, stored.Status)
	assert.Empty(t, stored.PlanTier)

	again, err := s.svc.CancelSubscription(s.ctx, hosting.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, again.Status)
	assert.Equal(t, 2, s.gateway.CallCount("CancelSubscription"))

	_, err = s.svc.CancelSubscription(s.ctx, "sub_missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestChangeSubscriptionPlan(t *testing.T) {
	s := newFixture(t)
	c := s.customer("upgrade@example.com", "US")
	s.mapPlan("ai-assistant-pro", "PLAN_PRO_M")
	s.mapPlan("ai-assistant-enterprise", "PLAN_ENT_M")

	order := s.subscribe(c.ID, "ai-assistant-pro", "cnon:card-nonce-ok")

	changed, err := s.svc.ChangeSubscriptionPlan(s.ctx, order.SubscriptionID, "ai-assistant-enterprise")
	require.NoError(t, err)
	assert.Equal(t, "ai-assistant-enterprise", changed.ProductID)
	assert.Equal(t, int64(29999), changed.Amount)
	assert.Equal(t, "ai-assistant-pro", changed.MetaString("previous_product_id"))
	assert.Equal(t, "PLAN_ENT_M", s.gateway.Subscriptions[order.SubscriptionID].PlanRef)

	stored, err := s.repos.Customer.GetByID(s.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "enterprise", stored.PlanTier)

	_, err = s.svc.ChangeSubscriptionPlan(s.ctx, order.SubscriptionID, "website-starter")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = s.svc.CancelSubscription(s.ctx, order.SubscriptionID)
	require.NoError(t, err)
	_, err = s.svc.ChangeSubscriptionPlan(s.ctx, order.SubscriptionID, "ai-assistant-pro")
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}
