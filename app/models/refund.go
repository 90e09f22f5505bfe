package models

import "time"

// Refund records a provider refund. It annotates the order but never moves it.
type Refund struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Provider         string    `gorm:"type:varchar(20);not null;index:ux_refunds_provider_refund,unique,priority:1" json:"provider"`
	ProviderRefundID string    `gorm:"type:varchar(191);not null;index:ux_refunds_provider_refund,unique,priority:2" json:"provider_refund_id"`
	OrderID          *uint     `gorm:"index" json:"order_id,omitempty"`
	GatewayPaymentID string    `gorm:"type:varchar(191);default:'';index" json:"gateway_payment_id"`
	Amount           int64     `gorm:"not null;default:0" json:"amount"`
	Currency         string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	Status           string    `gorm:"type:varchar(32);default:''" json:"status"`
	Reason           string    `gorm:"type:text" json:"reason"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
