package repository

import (
	"context"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"gorm.io/gorm"
)

// CustomerRepository defines the interface for customer-related database operations
type CustomerRepository interface {
	Create(ctx context.Context, customer *models.Customer) error
	GetByID(ctx context.Context, id uint) (*models.Customer, error)
	GetByEmail(ctx context.Context, email string) (*models.Customer, error)
	Update(ctx context.Context, customer *models.Customer) error
	UpdateStatus(ctx context.Context, id uint, status string) error
	UpdatePlanTier(ctx context.Context, id uint, tier string) error
}

// GatewayAccountRepository stores provider-side customer and card ids.
type GatewayAccountRepository interface {
	Get(ctx context.Context, customerID uint, provider string) (*models.GatewayAccount, error)
	Upsert(ctx context.Context, account *models.GatewayAccount) error
}

type PlanMappingRepository interface {
	FindActive(ctx context.Context, provider, productID string) (*models.PlanMapping, error)
	Upsert(ctx context.Context, mapping *models.PlanMapping) error
}

// OrderFilter narrows admin listings. Zero values mean "any".
type OrderFilter struct {
	Status     string
	CustomerID uint
	Offset     int
	Limit      int
}

// OrderRepository defines the interface for order-related database operations.
// Status writes go through CompareAndSetStatus only.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uint) (*models.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Order, error)
	List(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error)
	CompareAndSetStatus(ctx context.Context, id uint, fromStatus string, updates map[string]interface{}) (bool, error)
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	CountActiveSubscriptions(ctx context.Context, customerID, excludeOrderID uint) (int64, error)
	CountActiveForProduct(ctx context.Context, customerID uint, productID string) (int64, error)
}

type InvoiceRepository interface {
	Create(ctx context.Context, invoice *models.Invoice) error
	CreateIfNotExists(ctx context.Context, invoice *models.Invoice) (bool, error)
	GetByID(ctx context.Context, id uint) (*models.Invoice, error)
	GetByExternalRef(ctx context.Context, ref string) (*models.Invoice, error)
	GetLatestByOrderID(ctx context.Context, orderID uint) (*models.Invoice, error)
	CompareAndSetStatus(ctx context.Context, id uint, fromStatus, toStatus string, paidAt *time.Time) (bool, error)
	// ListOverdue returns pending order invoices whose due date has passed.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.Invoice, error)
}

type BankDepositRepository interface {
	Create(ctx context.Context, deposit *models.BankDeposit) error
	GetByID(ctx context.Context, id uint) (*models.BankDeposit, error)
	List(ctx context.Context, status string, offset, limit int) ([]models.BankDeposit, int64, error)
	Resolve(ctx context.Context, id uint, toStatus string, verifiedAt *time.Time) (bool, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.BankDeposit, error)
	CountPendingByInvoice(ctx context.Context, invoiceID uint) (int64, error)
}

// WebhookEventRepository is the dedupe ledger.
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, note string) error
	Count(ctx context.Context, provider, providerEventID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type RefundRepository interface {
	CreateIfNotExists(ctx context.Context, refund *models.Refund) (bool, error)
	ListByOrderID(ctx context.Context, orderID uint) ([]models.Refund, error)
}

type SupportTicketRepository interface {
	Create(ctx context.Context, ticket *models.SupportTicket) error
	GetByID(ctx context.Context, id uint) (*models.SupportTicket, error)
	GetOpenByOrderID(ctx context.Context, orderID uint) (*models.SupportTicket, error)
	Close(ctx context.Context, id uint, closedAt time.Time) (bool, error)
}

type AlertThresholdRepository interface {
	List(ctx context.Context) ([]models.AlertThreshold, error)
	ListEnabled(ctx context.Context) ([]models.AlertThreshold, error)
	ReplaceAll(ctx context.Context, thresholds []models.AlertThreshold) error
}

type AlertHistoryRepository interface {
	Create(ctx context.Context, entry *models.AlertHistory) error
	ListRecent(ctx context.Context, limit int) ([]models.AlertHistory, error)
	CountBySeveritySince(ctx context.Context, since time.Time) (map[string]int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories holds all repository instances bound to one *gorm.DB, which is
// either the pool or an open transaction.
type Repositories struct {
	db *gorm.DB

	Customer       CustomerRepository
	GatewayAccount GatewayAccountRepository
	PlanMapping    PlanMappingRepository
	Order          OrderRepository
	Invoice        InvoiceRepository
	BankDeposit    BankDepositRepository
	WebhookEvent   WebhookEventRepository
	Refund         RefundRepository
	SupportTicket  SupportTicketRepository
	AlertThreshold AlertThresholdRepository
	AlertHistory   AlertHistoryRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:             db,
		Customer:       NewCustomerRepository(db),
		GatewayAccount: NewGatewayAccountRepository(db),
		PlanMapping:    NewPlanMappingRepository(db),
		Order:          NewOrderRepository(db),
		Invoice:        NewInvoiceRepository(db),
		BankDeposit:    NewBankDepositRepository(db),
		WebhookEvent:   NewWebhookEventRepository(db),
		Refund:         NewRefundRepository(db),
		SupportTicket:  NewSupportTicketRepository(db),
		AlertThreshold: NewAlertThresholdRepository(db),
		AlertHistory:   NewAlertHistoryRepository(db),
	}
}

// Transaction runs fn with repositories bound to a single DB transaction.
// Returning an error from fn rolls everything back.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// DB exposes the underlying handle for health checks.
func (r *Repositories) DB() *gorm.DB {
	return r.db
}
