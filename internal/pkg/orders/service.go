// Package orders is the single writer of order, invoice and bank deposit
// state for customer initiated purchases.
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
	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/agistaffers/backoffice/internal/pkg/metrics"
	"github.com/agistaffers/backoffice/internal/pkg/notify"
	"github.com/agistaffers/backoffice/internal/pkg/receipts"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Manual delivery modes.
const (
	ManualDeliveryTicketOpened = "ticket_opened"
	ManualDeliveryTicketClosed = "ticket_closed"
)

type Config struct {
	GatewayTimeout     time.Duration
	ManualDeliveryMode string
	AutoDeliverInstant bool
}

func ConfigFromEnv() Config {
	mode := strings.ToLower(env.GetEnv("MANUAL_DELIVERY_MODE", ManualDeliveryTicketOpened))
	if mode != ManualDeliveryTicketClosed {
		mode = ManualDeliveryTicketOpened
	}
	return Config{
		GatewayTimeout:     env.GetEnvDuration("GATEWAY_TIMEOUT", 8*time.Second),
		ManualDeliveryMode: mode,
		AutoDeliverInstant: env.GetEnvBool("AUTO_DELIVER_INSTANT", true),
	}
}

// Deps are the collaborators of a Service. Notifier, Receipts and Metrics
// may be nil.
type Deps struct {
	Repos    *repository.Repositories
	Router   *billing.Router
	Bank     *billing.BankTransfer
	Receipts receipts.Store
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

// Service implements order, subscription, delivery and bank deposit flows.
type Service struct {
	repos    *repository.Repositories
	router   *billing.Router
	bank     *billing.BankTransfer
	receipts receipts.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 8 * time.Second
	}
	if cfg.ManualDeliveryMode == "" {
		cfg.ManualDeliveryMode = ManualDeliveryTicketOpened
	}
	s := &Service{
		repos:    d.Repos,
		router:   d.Router,
		bank:     d.Bank,
		receipts: d.Receipts,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.router == nil {
		s.router = billing.NewRouter(billing.RouterConfig{})
	}
	if s.bank == nil {
		s.bank = billing.NewBankTransfer(billing.BankTransferConfig{})
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

func (s *Service) loadCustomer(ctx context.Context, repos *repository.Repositories, id uint) (*models.Customer, error) {
	if id == 0 {
		return nil, apperrors.NotFound("customer", id)
	}
	c, err := repos.Customer.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("customer", id)
	}
	return c, err
}

func (s *Service) loadOrder(ctx context.Context, repos *repository.Repositories, id uint) (*models.Order, error) {
	o, err := repos.Order.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("order", id)
	}
	return o, err
}

func findProduct(id string) (catalog.Product, error) {
	p, ok := catalog.Find(id)
	if !ok {
		return catalog.Product{}, apperrors.NotFound("product", id)
	}
	return p, nil
}

// resolveMethod applies locale routing when the caller left the method empty.
func (s *Service) resolveMethod(method string, customer *models.Customer) (string, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "":
		if s.router.PrefersBankDeposit(customer.Country) {
			return models.PaymentMethodBankDeposit, nil
		}
		return models.PaymentMethodCard, nil
	case models.PaymentMethodCard:
		return models.PaymentMethodCard, nil
	case models.PaymentMethodBankDeposit:
		return models.PaymentMethodBankDeposit, nil
	}
	return "", apperrors.Validation("paymentMethod", "must be card or bank_deposit")
}

// gatewayContext bounds a single gateway call.
func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.GatewayTimeout)
}

// newOrder snapshots the product onto a pending order.
func (s *Service) newOrder(customer *models.Customer, p catalog.Product, quantity int, method, gateway string) *models.Order {
	orderType := models.OrderTypeOneTime
	if p.IsSubscription() {
		orderType = models.OrderTypeSubscription
	}
	now := s.now()
	o := &models.Order{
		OrderNumber:   models.NewOrderNumber(now),
		CustomerID:    customer.ID,
		ProductID:     p.ID,
		ProductName:   p.Name,
		SKU:           p.SKU,
		UnitPrice:     p.Price,
		Quantity:      quantity,
		Amount:        p.Price * int64(quantity),
		Currency:      p.Currency,
		OrderType:     orderType,
		PaymentMethod: method,
		Gateway:       gateway,
		PaymentStatus: models.PaymentStatusPending,
		Status:        models.OrderStatusPending,
	}
	if env.IsDev() {
		o.SetMeta("test_mode", true)
	}
	return o
}

func (s *Service) createOrder(ctx context.Context, o *models.Order) error {
	if err := s.repos.Order.Create(ctx, o); err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	s.metrics.OrderCreated(o.OrderType, o.Gateway, o.Currency, o.Amount)
	log.Infof("[Orders] Created %s order %s for customer %d (%s %d %s)", o.OrderType, o.OrderNumber, o.CustomerID, o.ProductID, o.Amount, o.Currency)
	return nil
}

// transition applies t and records the outcome.
func (s *Service) transition(ctx context.Context, repos *repository.Repositories, order *models.Order, t Transition) (Outcome, error) {
	outcome, err := ApplyTransition(ctx, repos.Order, order, t)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			s.metrics.OrderTransition(t.To, "conflict")
		}
		return "", err
	}
	s.metrics.OrderTransition(t.To, string(outcome))
	return outcome, nil
}

// openDepositInvoice creates the pending invoice for a bank deposit order and
// moves the order to pending_deposit.
func (s *Service) openDepositInvoice(ctx context.Context, order *models.Order) (*models.Invoice, error) {
	now := s.now()
	due := s.bank.DueDate(now)
	reference := s.bank.NewReferenceCode(now)

	var invoice *models.Invoice
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		orderID := order.ID
		invoice = &models.Invoice{
			InvoiceNumber: models.NewInvoiceNumber(now),
			CustomerID:    order.CustomerID,
			OrderID:       &orderID,
			Amount:        order.Amount,
			Currency:      order.Currency,
			Status:        models.InvoiceStatusPending,
			DueDate:       &due,
		}
		if err := tx.Invoice.Create(ctx, invoice); err != nil {
			return err
		}
		_, err := s.transition(ctx, tx, order, Transition{
			To:     models.OrderStatusPendingDeposit,
			Fields: map[string]interface{}{"payment_status": models.PaymentStatusAwaitingDeposit},
			Meta: map[string]interface{}{
				"invoice_number":    invoice.InvoiceNumber,
				"deposit_reference": reference,
				"deposit_due_date":  due.Format(time.RFC3339),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// failOrder durably marks order failed after a gateway error and returns the
// error for the caller. When a webhook already settled the order the write is
// skipped and the settled order wins.
func (s *Service) failOrder(ctx context.Context, order *models.Order, provider string, cause error) error {
	ctx = context.WithoutCancel(ctx)

	code, category := "UNKNOWN", ""
	var gwErr *apperrors.GatewayError
	if errors.As(cause, &gwErr) {
		code, category = gwErr.Code, gwErr.Category
	}
	s.metrics.GatewayError(provider, code)
	log.Errorf("[Orders] Gateway %s failed for order %s: %v", provider, order.OrderNumber, cause)

	_, err := s.transition(ctx, s.repos, order, Transition{
		To:     models.OrderStatusFailed,
		Fields: map[string]interface{}{"payment_status": models.PaymentStatusFailed},
		Meta: map[string]interface{}{
			"payment_error_code":     code,
			"payment_error_category": category,
			"failed_at":              s.now().Format(time.RFC3339),
		},
	})
	if errors.Is(err, apperrors.ErrConflict) {
		log.Warnf("[Orders] Order %s settled as %s while its gateway call failed; keeping it", order.OrderNumber, order.Status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark order %s failed after gateway error (%v): %w", order.OrderNumber, cause, err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrPaymentFailed, cause)
}

// failedOrder is failOrder for flows that return the order.
func (s *Service) failedOrder(ctx context.Context, order *models.Order, provider string, cause error) (*models.Order, error) {
	if err := s.failOrder(ctx, order, provider, cause); err != nil {
		return nil, err
	}
	return order, nil
}

// ensureGatewayCustomer returns the provider account for customer, creating
// the provider-side customer on first use.
func (s *Service) ensureGatewayCustomer(ctx context.Context, gw billing.CardGateway, customer *models.Customer) (*models.GatewayAccount, error) {
	account, err := s.repos.GatewayAccount.Get(ctx, customer.ID, gw.Name())
	if err == nil && account.ProviderCustomerID != "" {
		return account, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	given, family := splitName(customer.Name)
	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()
	remote, err := gw.CreateCustomer(gctx, billing.CustomerInput{
		Email:       customer.Email,
		GivenName:   given,
		FamilyName:  family,
		Phone:       customer.Phone,
		ReferenceID: fmt.Sprintf("customer-%d", customer.ID),
	})
	if err != nil {
		return nil, err
	}

	account = &models.GatewayAccount{
		CustomerID:         customer.ID,
		Provider:           gw.Name(),
		ProviderCustomerID: remote.ID,
	}
	if err := s.repos.GatewayAccount.Upsert(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to store %s customer: %w", gw.Name(), err)
	}
	return account, nil
}

func splitName(name string) (string, string) {
	given, family, _ := strings.Cut(strings.TrimSpace(name), " ")
	return given, strings.TrimSpace(family)
}

func nextBillingDate(p catalog.Product, from time.Time) time.Time {
	if p.BillingPeriod == catalog.PeriodYear {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// notifyOrder tells the customer and operators about an order state change.
func (s *Service) notifyOrder(ctx context.Context, order *models.Order, email, title, body string) {
	kind := notify.KindOrderStatus
	if order.IsSubscription() {
		kind = notify.KindSubscription
	}
	s.notifier.Notify(ctx, notify.Notification{
		Kind:      kind,
		Title:     title,
		Body:      body,
		Recipient: email,
		Data: map[string]interface{}{
			"order_number":   order.OrderNumber,
			"status":         order.Status,
			"payment_status": order.PaymentStatus,
			"amount":         order.Amount,
			"currency":       order.Currency,
		},
	})
}

// DemoteIfLastSubscription marks the customer cancelled when no other
// subscription order of theirs is still active.
func DemoteIfLastSubscription(ctx context.Context, repos *repository.Repositories, customerID, cancelledOrderID uint) (bool, error) {
	remaining, err := repos.Order.CountActiveSubscriptions(ctx, customerID, cancelledOrderID)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	if err := repos.Customer.UpdateStatus(ctx, customerID, models.CustomerStatusCancelled); err != nil {
		return false, err
	}
	if err := repos.Customer.UpdatePlanTier(ctx, customerID, ""); err != nil {
		return false, err
	}
	return true, nil
}
