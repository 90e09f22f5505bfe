package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	CustomerStatusActive        = "active"
	CustomerStatusSuspended     = "suspended"
	CustomerStatusCancelled     = "cancelled"
	CustomerStatusPaymentFailed = "payment_failed"
)

// Customer is never hard deleted; offboarding is a status change.
type Customer struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(200);not null;uniqueIndex" json:"email" validate:"required,email,max=200"`
	Name      string    `gorm:"type:varchar(150);default:''" json:"name" validate:"max=150"`
	Company   string    `gorm:"type:varchar(200);default:''" json:"company" validate:"max=200"`
	Phone     string    `gorm:"type:varchar(40);default:''" json:"phone" validate:"max=40"`
	Country   string    `gorm:"type:varchar(2);default:''" json:"country" validate:"omitempty,len=2"`
	PlanTier  string    `gorm:"type:varchar(50);default:''" json:"plan_tier"`
	Status    string    `gorm:"type:varchar(20);not null;default:'active';index" json:"status" validate:"oneof=active suspended cancelled payment_failed"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Customer) Validate() error {
	v := validator.New()

	return v.Struct(c)
}
