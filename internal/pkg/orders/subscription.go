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
	"github.com/agistaffers/backoffice/internal/pkg/billing"
	"github.com/agistaffers/backoffice/internal/pkg/catalog"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

type SubscriptionInput struct {
	CustomerID    uint
	PlanID        string
	PaymentMethod string
	// CardReference is a card token to store, or the id of the card already
	// stored for the customer. Empty reuses the stored card.
	CardReference string
}

// CreateSubscription starts a recurring plan. Card subscriptions are created
// at the gateway; bank deposit subscriptions wait for the first transfer.
//
// A second active subscription to the same plan is allowed and only logged.
func (s *Service) CreateSubscription(ctx context.Context, in SubscriptionInput) (*models.Order, error) {
	product, err := findProduct(in.PlanID)
	if err != nil {
		return nil, err
	}
	if !product.IsSubscription() {
		return nil, apperrors.Validation("planId", "is not a subscription plan")
	}
	customer, err := s.loadCustomer(ctx, s.repos, in.CustomerID)
	if err != nil {
		return nil, err
	}
	method, err := s.resolveMethod(in.PaymentMethod, customer)
	if err != nil {
		return nil, err
	}

	existing, err := s.repos.Order.CountActiveForProduct(ctx, customer.ID, product.ID)
	if err != nil {
		return nil, err
	}

	if method == models.PaymentMethodBankDeposit {
		order := s.newOrder(customer, product, 1, method, models.ProviderBankDeposit)
		// Manual subscriptions have no gateway id; a local one keeps them
		// addressable for cancel and plan changes.
		order.SubscriptionID = ManualSubscriptionPrefix + order.OrderNumber
		order.SetMeta("subscription_mode", "manual")
		flagDuplicate(order, existing)
		if err := s.createOrder(ctx, order); err != nil {
			return nil, err
		}
		invoice, err := s.openDepositInvoice(ctx, order)
		if err != nil {
			return nil, err
		}
		s.notifyOrder(ctx, order, customer.Email, "Subscription awaiting first transfer",
			s.bank.Instructions(order.MetaString("deposit_reference"), order.Amount, order.Currency, *invoice.DueDate))
		return order, nil
	}

	gw, err := s.router.ForCountry(customer.Country)
	if err != nil {
		return nil, err
	}
	mapping, err := s.repos.PlanMapping.FindActive(ctx, gw.Name(), product.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &apperrors.GatewayError{Provider: gw.Name(), Code: "NOT_CONFIGURED", Message: "no plan mapping for " + product.ID}
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.CardReference) == "" && !s.hasCardOnFile(ctx, customer.ID, gw.Name()) {
		return nil, apperrors.Validation("cardReference", "is required when no card is on file")
	}

	order := s.newOrder(customer, product, 1, method, gw.Name())
	flagDuplicate(order, existing)
	if err := s.createOrder(ctx, order); err != nil {
		return nil, err
	}

	account, err := s.ensureGatewayCustomer(ctx, gw, customer)
	if err != nil {
		return s.failedOrder(ctx, order, gw.Name(), err)
	}
	cardID, err := s.ensureCard(ctx, gw, account, in.CardReference)
	if err != nil {
		return s.failedOrder(ctx, order, gw.Name(), err)
	}

	gctx, cancel := s.gatewayContext(ctx)
	sub, err := gw.CreateSubscription(gctx, billing.SubscriptionRequest{
		CustomerID:     account.ProviderCustomerID,
		CardID:         cardID,
		PlanRef:        mapping.ProviderPlanRef,
		ReferenceID:    order.OrderNumber,
		IdempotencyKey: order.OrderNumber,
	})
	cancel()
	if err != nil {
		return s.failedOrder(ctx, order, gw.Name(), err)
	}
	if sub.Status == billing.SubscriptionCanceled {
		return s.failedOrder(ctx, order, gw.Name(), &apperrors.GatewayError{Provider: gw.Name(), Code: "SUBSCRIPTION_" + strings.ToUpper(sub.RawStatus)})
	}

	ctx = context.WithoutCancel(ctx)
	now := s.now()
	next := nextBillingDate(product, now)
	if sub.ChargedThroughDate != nil {
		next = *sub.ChargedThroughDate
	}
	t := Transition{
		To: models.OrderStatusPending,
		Fields: map[string]interface{}{
			"subscription_id":   sub.ID,
			"next_billing_date": &next,
		},
		Meta: map[string]interface{}{
			"gateway_customer_id":         account.ProviderCustomerID,
			"card_id":                     cardID,
			"card_last4":                  account.CardLast4,
			"gateway_plan_ref":            mapping.ProviderPlanRef,
			"gateway_subscription_status": sub.RawStatus,
		},
		WriteIfUnchanged: true,
	}
	if sub.Status == billing.SubscriptionActive {
		t.To = models.OrderStatusActive
		t.Fields["payment_status"] = models.PaymentStatusCompleted
		t.Fields["paid_at"] = &now
	}
	if _, err := s.transition(ctx, s.repos, order, t); err != nil {
		return nil, fmt.Errorf("failed to record subscription %s for order %s: %w", sub.ID, order.OrderNumber, err)
	}
	if order.Status == models.OrderStatusActive {
		if err := s.activateCustomer(ctx, s.repos, customer.ID, product.Tier); err != nil {
			return nil, err
		}
		s.notifyOrder(ctx, order, customer.Email, "Subscription active",
			fmt.Sprintf("Your %s subscription (%s) is active.", order.ProductName, catalog.FormatPriceWithPeriod(product)))
	}
	log.Infof("[Orders] %s subscription %s for order %s is %s", gw.Name(), sub.ID, order.OrderNumber, sub.Status)
	return order, nil
}

func flagDuplicate(order *models.Order, activeForPlan int64) {
	if activeForPlan == 0 {
		return
	}
	log.Warnf("[Orders] Customer %d already has %d active %s subscription(s); creating another", order.CustomerID, activeForPlan, order.ProductID)
	order.SetMeta("duplicate_subscription", true)
}

// ensureCard returns the card id to bill, storing cardReference when it is
// not the card already on file.
func (s *Service) ensureCard(ctx context.Context, gw billing.CardGateway, account *models.GatewayAccount, cardReference string) (string, error) {
	ref := strings.TrimSpace(cardReference)
	if ref == "" || ref == account.CardID {
		if account.CardID == "" {
			return "", apperrors.Validation("cardReference", "is required when no card is on file")
		}
		return account.CardID, nil
	}

	gctx, cancel := s.gatewayContext(ctx)
	card, err := gw.CreateCard(gctx, account.ProviderCustomerID, ref)
	cancel()
	if err != nil {
		return "", err
	}
	account.CardID = card.ID
	account.CardLast4 = card.Last4
	if err := s.repos.GatewayAccount.Upsert(ctx, account); err != nil {
		return "", fmt.Errorf("failed to store %s card: %w", gw.Name(), err)
	}
	return card.ID, nil
}

func (s *Service) hasCardOnFile(ctx context.Context, customerID uint, provider string) bool {
	account, err := s.repos.GatewayAccount.Get(ctx, customerID, provider)
	return err == nil && account.CardID != ""
}

func (s *Service) activateCustomer(ctx context.Context, repos *repository.Repositories, customerID uint, tier string) error {
	if err := repos.Customer.UpdateStatus(ctx, customerID, models.CustomerStatusActive); err != nil {
		return err
	}
	return repos.Customer.UpdatePlanTier(ctx, customerID, tier)
}

// ManualSubscriptionPrefix marks subscription ids issued locally for bank
// deposit subscriptions.
const ManualSubscriptionPrefix = "manual-"

func (s *Service) loadSubscriptionOrder(ctx context.Context, subscriptionID string) (*models.Order, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, apperrors.NotFound("subscription", subscriptionID)
	}
	order, err := s.repos.Order.GetBySubscriptionID(ctx, subscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("subscription", subscriptionID)
	}
	return order, err
}

// CancelSubscription cancels at the gateway on a best-effort basis and always
// cancels locally. The customer is demoted when this was their last active
// subscription.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID string) (*models.Order, error) {
	order, err := s.loadSubscriptionOrder(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return order, nil
	}

	meta := map[string]interface{}{"cancelled_at": s.now().Format(time.RFC3339)}
	if gw, ok := s.router.Get(order.Gateway); ok {
		gctx, cancel := s.gatewayContext(ctx)
		_, err := gw.CancelSubscription(gctx, order.SubscriptionID)
		cancel()
		if err != nil {
			code := "UNKNOWN"
			var gwErr *apperrors.GatewayError
			if errors.As(err, &gwErr) {
				code = gwErr.Code
			}
			s.metrics.GatewayError(gw.Name(), code)
			log.Warnf("[Orders] Gateway cancel of subscription %s failed, cancelling locally: %v", order.SubscriptionID, err)
			meta["gateway_cancel_error"] = code
		}
	}

	ctx = context.WithoutCancel(ctx)
	var demoted bool
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if _, err := s.transition(ctx, tx, order, Transition{To: models.OrderStatusCancelled, Meta: meta}); err != nil {
			return err
		}
		var err error
		demoted, err = DemoteIfLastSubscription(ctx, tx, order.CustomerID, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Orders] Subscription %s (order %s) cancelled, customer demoted: %v", order.SubscriptionID, order.OrderNumber, demoted)
	if customer, err := s.loadCustomer(ctx, s.repos, order.CustomerID); err == nil {
		s.notifyOrder(ctx, order, customer.Email, "Subscription cancelled",
			fmt.Sprintf("Your %s subscription has been cancelled.", order.ProductName))
	}
	return order, nil
}

// ChangeSubscriptionPlan swaps the plan at the gateway (proration is left to
// the provider) and then updates the local snapshot and plan tier.
func (s *Service) ChangeSubscriptionPlan(ctx context.Context, subscriptionID, newPlanID string) (*models.Order, error) {
	order, err := s.loadSubscriptionOrder(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusActive {
		return nil, &apperrors.ConflictError{Entity: "subscription", From: order.Status, To: "plan change"}
	}
	product, err := findProduct(newPlanID)
	if err != nil {
		return nil, err
	}
	if !product.IsSubscription() {
		return nil, apperrors.Validation("planId", "is not a subscription plan")
	}
	if product.ID == order.ProductID {
		return order, nil
	}

	if gw, ok := s.router.Get(order.Gateway); ok {
		mapping, err := s.repos.PlanMapping.FindActive(ctx, gw.Name(), product.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.GatewayError{Provider: gw.Name(), Code: "NOT_CONFIGURED", Message: "no plan mapping for " + product.ID}
		}
		if err != nil {
			return nil, err
		}
		gctx, cancel := s.gatewayContext(ctx)
		_, err = gw.UpdateSubscriptionPlan(gctx, order.SubscriptionID, mapping.ProviderPlanRef)
		cancel()
		if err != nil {
			var gwErr *apperrors.GatewayError
			if errors.As(err, &gwErr) {
				s.metrics.GatewayError(gw.Name(), gwErr.Code)
			}
			return nil, fmt.Errorf("plan change for subscription %s failed: %w", order.SubscriptionID, err)
		}
		order.SetMeta("gateway_plan_ref", mapping.ProviderPlanRef)
	}

	ctx = context.WithoutCancel(ctx)
	order.SetMeta("previous_product_id", order.ProductID)
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Order.Update(ctx, order.ID, map[string]interface{}{
			"product_id":   product.ID,
			"product_name": product.Name,
			"sku":          product.SKU,
			"unit_price":   product.Price,
			"amount":       product.Price * int64(order.Quantity),
			"metadata":     order.Metadata,
		}); err != nil {
			return err
		}
		return tx.Customer.UpdatePlanTier(ctx, order.CustomerID, product.Tier)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Orders] Subscription %s moved from %s to %s", order.SubscriptionID, order.MetaString("previous_product_id"), product.ID)
	return s.loadOrder(ctx, s.repos, order.ID)
}
