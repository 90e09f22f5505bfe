package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusFailed  = "failed"
)

type Invoice struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	InvoiceNumber string     `gorm:"type:varchar(40);not null;uniqueIndex" json:"invoice_number"`
	CustomerID    uint       `gorm:"not null;index" json:"customer_id"`
	OrderID       *uint      `gorm:"index" json:"order_id,omitempty"`
	Amount        int64      `gorm:"not null" json:"amount"`
	Currency      string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	DueDate       *time.Time `gorm:"type:timestamp;default:null;index" json:"due_date,omitempty"`
	PaidAt        *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	// ExternalRef is the gateway payment or invoice id; unique when set.
	ExternalRef *string   `gorm:"type:varchar(191);uniqueIndex" json:"external_ref,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func NewInvoiceNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("INV-%s-%s", now.UTC().Format("200601"), suffix)
}
