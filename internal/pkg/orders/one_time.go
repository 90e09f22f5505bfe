package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"github.com/agistaffers/backoffice/internal/pkg/apperrors"
	"github.com/agistaffers/backoffice/internal/pkg/billing"
	"github.com/agistaffers/backoffice/internal/pkg/catalog"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

type OneTimeOrderInput struct {
	CustomerID    uint
	ProductID     string
	PaymentMethod string
	Quantity      int
	// SourceToken is the tokenized card from the checkout form.
	SourceToken string
}

// CreateOneTimeOrder persists a pending order for price x quantity and then
// either charges the card or opens a bank deposit invoice. An order is never
// left pending after a failed charge.
func (s *Service) CreateOneTimeOrder(ctx context.Context, in OneTimeOrderInput) (*models.Order, error) {
	if in.Quantity < 1 {
		return nil, apperrors.Validation("quantity", "must be at least 1")
	}
	product, err := findProduct(in.ProductID)
	if err != nil {
		return nil, err
	}
	if product.IsSubscription() {
		return nil, apperrors.Validation("productId", "is a subscription plan")
	}
	if int64(in.Quantity) > math.MaxInt64/product.Price {
		return nil, apperrors.Validation("quantity", "is too large")
	}
	customer, err := s.loadCustomer(ctx, s.repos, in.CustomerID)
	if err != nil {
		return nil, err
	}
	method, err := s.resolveMethod(in.PaymentMethod, customer)
	if err != nil {
		return nil, err
	}

	if method == models.PaymentMethodBankDeposit {
		order := s.newOrder(customer, product, in.Quantity, method, models.ProviderBankDeposit)
		if err := s.createOrder(ctx, order); err != nil {
			return nil, err
		}
		invoice, err := s.openDepositInvoice(ctx, order)
		if err != nil {
			return nil, err
		}
		s.notifyOrder(ctx, order, customer.Email, "Awaiting bank transfer",
			s.bank.Instructions(order.MetaString("deposit_reference"), order.Amount, order.Currency, *invoice.DueDate))
		return order, nil
	}

	if strings.TrimSpace(in.SourceToken) == "" {
		return nil, apperrors.Validation("sourceId", "is required for card payments")
	}
	gw, err := s.router.ForCountry(customer.Country)
	if err != nil {
		return nil, err
	}

	order := s.newOrder(customer, product, in.Quantity, method, gw.Name())
	if err := s.createOrder(ctx, order); err != nil {
		return nil, err
	}
	if err := s.charge(ctx, gw, order, customer, in.SourceToken); err != nil {
		return nil, err
	}
	return order, nil
}

// charge runs the single gateway attempt for a pending card order and applies
// the result.
func (s *Service) charge(ctx context.Context, gw billing.CardGateway, order *models.Order, customer *models.Customer, sourceToken string) error {
	account, err := s.ensureGatewayCustomer(ctx, gw, customer)
	if err != nil {
		return s.failOrder(ctx, order, gw.Name(), err)
	}

	gctx, cancel := s.gatewayContext(ctx)
	payment, err := gw.CreatePayment(gctx, billing.PaymentRequest{
		Amount:         order.Amount,
		Currency:       order.Currency,
		SourceToken:    sourceToken,
		CustomerID:     account.ProviderCustomerID,
		ReferenceID:    order.OrderNumber,
		IdempotencyKey: order.OrderNumber,
		Note:           order.ProductName,
	})
	cancel()
	if err != nil {
		return s.failOrder(ctx, order, gw.Name(), err)
	}

	if payment.Status == models.PaymentStatusFailed {
		return s.failOrder(ctx, order, gw.Name(), &apperrors.GatewayError{
			Provider: gw.Name(),
			Code:     billing.DeclineCode(payment),
			Category: "PAYMENT_METHOD_ERROR",
			Declined: true,
		})
	}

	ctx = context.WithoutCancel(ctx)
	t := Transition{
		To: models.OrderStatusPending,
		Fields: map[string]interface{}{
			"gateway_payment_id": payment.ID,
			"payment_status":     payment.Status,
		},
		Meta: map[string]interface{}{
			"gateway_customer_id": account.ProviderCustomerID,
			"card_last4":          payment.CardLast4,
			"receipt_url":         payment.ReceiptURL,
		},
		WriteIfUnchanged: true,
	}
	if payment.Status == models.PaymentStatusCompleted {
		now := s.now()
		t.To = PaidStatus(order)
		t.Fields["paid_at"] = &now
	}
	if _, err := s.transition(ctx, s.repos, order, t); err != nil {
		// A conflict here means the order was cancelled while we charged.
		return fmt.Errorf("failed to record payment %s for order %s: %w", payment.ID, order.OrderNumber, err)
	}

	log.Infof("[Orders] %s payment %s for order %s is %s", gw.Name(), payment.ID, order.OrderNumber, payment.Status)
	if payment.Status == models.PaymentStatusCompleted {
		s.notifyOrder(ctx, order, customer.Email, "Payment received",
			fmt.Sprintf("We received %s for %s (order %s).", catalog.FormatPrice(order.Amount, order.Currency), order.ProductName, order.OrderNumber))
	}
	return nil
}

// CheckoutInput is the public checkout form. Amount is in minor units and
// must equal the catalog price.
type CheckoutInput struct {
	SourceID      string `json:"sourceId" validate:"required"`
	ProductID     string `json:"productId" validate:"required"`
	CustomerEmail string `json:"customerEmail" validate:"required,email,max=200"`
	CustomerName  string `json:"customerName" validate:"required,max=150"`
	CustomerPhone string `json:"customerPhone" validate:"max=40"`
	Country       string `json:"country" validate:"omitempty,len=2"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	Type          string `json:"type" validate:"required,oneof=one-time subscription"`
}

type CheckoutResult struct {
	Order    *models.Order
	Customer *models.Customer
}

// Checkout finds or creates the customer for a checkout submission and runs
// the one-time or subscription flow for it.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if err := apperrors.ValidateStruct(in); err != nil {
		return nil, err
	}
	product, err := findProduct(in.ProductID)
	if err != nil {
		return nil, err
	}
	if string(product.Type) != in.Type {
		return nil, apperrors.Validation("type", fmt.Sprintf("product %s is %s", product.ID, product.Type))
	}
	if in.Amount != product.Price {
		return nil, apperrors.Validation("amount", "does not match the catalog price")
	}

	customer, err := s.findOrCreateCustomer(ctx, in)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	if product.IsSubscription() {
		order, err = s.CreateSubscription(ctx, SubscriptionInput{
			CustomerID:    customer.ID,
			PlanID:        product.ID,
			PaymentMethod: models.PaymentMethodCard,
			CardReference: in.SourceID,
		})
	} else {
		order, err = s.CreateOneTimeOrder(ctx, OneTimeOrderInput{
			CustomerID:    customer.ID,
			ProductID:     product.ID,
			PaymentMethod: models.PaymentMethodCard,
			Quantity:      1,
			SourceToken:   in.SourceID,
		})
	}
	if err != nil {
		return nil, err
	}

	if s.cfg.AutoDeliverInstant && product.Delivery == catalog.DeliveryInstant && order.PaymentStatus == models.PaymentStatusCompleted {
		delivered, err := s.DeliverProduct(ctx, order.ID)
		if err != nil {
			log.Warnf("[Orders] Automatic delivery of %s failed: %v", order.OrderNumber, err)
		} else {
			order = delivered
		}
	}
	return &CheckoutResult{Order: order, Customer: customer}, nil
}

func (s *Service) findOrCreateCustomer(ctx context.Context, in CheckoutInput) (*models.Customer, error) {
	customer, err := s.repos.Customer.GetByEmail(ctx, in.CustomerEmail)
	if err == nil {
		changed := false
		if customer.Name == "" && in.CustomerName != "" {
			customer.Name, changed = in.CustomerName, true
		}
		if customer.Phone == "" && in.CustomerPhone != "" {
			customer.Phone, changed = in.CustomerPhone, true
		}
		if customer.Country == "" && in.Country != "" {
			customer.Country, changed = strings.ToUpper(in.Country), true
		}
		if changed {
			if err := s.repos.Customer.Update(ctx, customer); err != nil {
				return nil, err
			}
		}
		return customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	customer = &models.Customer{
		Email:   in.CustomerEmail,
		Name:    in.CustomerName,
		Phone:   in.CustomerPhone,
		Country: strings.ToUpper(in.Country),
		Status:  models.CustomerStatusActive,
	}
	if err := customer.Validate(); err != nil {
		return nil, apperrors.Validation("customerEmail", "is invalid")
	}
	if err := s.repos.Customer.Create(ctx, customer); err != nil {
		// Lost a race with a concurrent first checkout for the same email.
		if existing, getErr := s.repos.Customer.GetByEmail(ctx, in.CustomerEmail); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	log.Infof("[Orders] Created customer %d for %s", customer.ID, customer.Email)
	return customer, nil
}

// olderThan is used by reconciliation to decide which pending orders are stuck.
func (s *Service) olderThan(d time.Duration) time.Time {
	return s.now().Add(-d)
}
