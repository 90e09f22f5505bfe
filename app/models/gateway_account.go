package models

import "time"

// Payment provider constants used across billing-related models.
const (
	ProviderSquare      = "square"
	ProviderStripe      = "stripe"
	ProviderBankDeposit = "bank_deposit"
)

// GatewayAccount links a customer to the provider-side customer record and
// the card stored there.
type GatewayAccount struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	CustomerID         uint      `gorm:"not null;index:ux_gateway_accounts_customer_provider,unique" json:"customer_id"`
	Provider           string    `gorm:"type:varchar(20);not null;index:ux_gateway_accounts_customer_provider,unique;index:ux_gateway_accounts_provider_customer,unique,priority:1" json:"provider"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;index:ux_gateway_accounts_provider_customer,unique,priority:2" json:"provider_customer_id"`
	CardID             string    `gorm:"type:varchar(191);default:''" json:"card_id"`
	CardLast4          string    `gorm:"type:varchar(4);default:''" json:"card_last4"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
