package models

import "time"

// PlanMapping maps a catalog product id to the provider's plan reference
// (Square plan variation id, Stripe price id).
type PlanMapping struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;index:ux_plan_mappings_provider_product,unique,priority:1" json:"provider"`
	ProductID       string    `gorm:"type:varchar(100);not null;index:ux_plan_mappings_provider_product,unique,priority:2" json:"product_id"`
	ProviderPlanRef string    `gorm:"type:varchar(191);not null;index" json:"provider_plan_ref"`
	IsActive        bool      `gorm:"not null;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
