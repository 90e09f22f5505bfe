package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	OrderStatusPending        = "pending"
	OrderStatusPendingDeposit = "pending_deposit"
	OrderStatusConfirmed      = "confirmed"
	OrderStatusActive         = "active"
	OrderStatusDelivered      = "delivered"
	OrderStatusFailed         = "failed"
	OrderStatusCancelled      = "cancelled"
)

const (
	PaymentStatusPending         = "pending"
	PaymentStatusAuthorized      = "authorized"
	PaymentStatusCompleted       = "completed"
	PaymentStatusAwaitingDeposit = "awaiting_deposit"
	PaymentStatusFailed          = "failed"
	PaymentStatusRefunded        = "refunded"
)

const (
	PaymentMethodCard        = "card"
	PaymentMethodBankDeposit = "bank_deposit"
)

const (
	OrderTypeOneTime      = "one-time"
	OrderTypeSubscription = "subscription"
)

// Order is one purchase attempt. The product fields are a snapshot taken at
// creation time and never follow later catalog changes.
type Order struct {
	ID               uint              `gorm:"primaryKey" json:"id"`
	OrderNumber      string            `gorm:"type:varchar(40);not null;uniqueIndex" json:"order_number"`
	CustomerID       uint              `gorm:"not null;index" json:"customer_id"`
	ProductID        string            `gorm:"type:varchar(100);not null" json:"product_id"`
	ProductName      string            `gorm:"type:varchar(200);not null" json:"product_name"`
	SKU              string            `gorm:"type:varchar(100);default:''" json:"sku"`
	UnitPrice        int64             `gorm:"not null" json:"unit_price"`
	Quantity         int               `gorm:"not null;default:1" json:"quantity"`
	Amount           int64             `gorm:"not null" json:"amount"`
	Currency         string            `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	OrderType        string            `gorm:"type:varchar(20);not null" json:"order_type"`
	PaymentMethod    string            `gorm:"type:varchar(20);not null" json:"payment_method"`
	Gateway          string            `gorm:"type:varchar(20);not null;default:''" json:"gateway"`
	PaymentStatus    string            `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status"`
	Status           string            `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	GatewayPaymentID string            `gorm:"type:varchar(191);default:'';index" json:"gateway_payment_id"`
	SubscriptionID   string            `gorm:"type:varchar(191);default:'';index" json:"subscription_id"`
	NextBillingDate  *time.Time        `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	PaidAt           *time.Time        `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	DeliveredAt      *time.Time        `gorm:"type:timestamp;default:null" json:"delivered_at,omitempty"`
	Metadata         datatypes.JSONMap `json:"metadata"`
	CreatedAt        time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) IsSubscription() bool { return o.OrderType == OrderTypeSubscription }

// SetMeta lazily allocates the metadata map.
func (o *Order) SetMeta(key string, value any) {
	if o.Metadata == nil {
		o.Metadata = datatypes.JSONMap{}
	}
	o.Metadata[key] = value
}

func (o *Order) MetaString(key string) string {
	if o.Metadata == nil {
		return ""
	}
	if v, ok := o.Metadata[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// NewOrderNumber renders AGI-YYYYMMDD-XXXXXXXX.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("AGI-%s-%s", now.UTC().Format("20060102"), suffix)
}
