package models

import "time"

const (
	TicketStatusOpen   = "open"
	TicketStatusClosed = "closed"
)

// SupportTicket tracks manual fulfillment of an order.
type SupportTicket struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	OrderID   uint       `gorm:"not null;index" json:"order_id"`
	Subject   string     `gorm:"type:varchar(255);not null" json:"subject"`
	Status    string     `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`
	ClosedAt  *time.Time `gorm:"type:timestamp;default:null" json:"closed_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
