package models

import "time"

const (
	BankDepositStatusPending  = "pending"
	BankDepositStatusVerified = "verified"
	BankDepositStatusRejected = "rejected"
)

type BankDeposit struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	ReferenceCode        string     `gorm:"type:varchar(40);not null;uniqueIndex" json:"reference_code"`
	CustomerID           uint       `gorm:"not null;index" json:"customer_id"`
	InvoiceID            uint       `gorm:"not null;index" json:"invoice_id"`
	OrderID              *uint      `gorm:"index" json:"order_id,omitempty"`
	BankName             string     `gorm:"type:varchar(150);not null" json:"bank_name"`
	Amount               int64      `gorm:"not null" json:"amount"`
	Currency             string     `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	DueDate              time.Time  `gorm:"type:timestamp;not null" json:"due_date"`
	TransactionReference string     `gorm:"type:varchar(191);default:''" json:"transaction_reference"`
	Notes                string     `gorm:"type:text" json:"notes"`
	ReceiptLocation      string     `gorm:"type:varchar(500);default:''" json:"receipt_location"`
	ReceiptContentType   string     `gorm:"type:varchar(100);default:''" json:"receipt_content_type"`
	Status               string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	VerifiedAt           *time.Time `gorm:"type:timestamp;default:null" json:"verified_at,omitempty"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
