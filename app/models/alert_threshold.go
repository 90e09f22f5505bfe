package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	OperatorAbove = "above"
	OperatorBelow = "below"
)

// DefaultAlertCooldown applies when CooldownSeconds is zero.
const DefaultAlertCooldown = 5 * time.Minute

type AlertThreshold struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Key             string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"key" validate:"required,max=100"`
	Metric          string    `gorm:"type:varchar(100);not null;index" json:"metric" validate:"required,max=100"`
	Operator        string    `gorm:"type:varchar(10);not null" json:"operator" validate:"oneof=above below"`
	Value           float64   `gorm:"not null" json:"value"`
	Unit            string    `gorm:"type:varchar(20);default:''" json:"unit" validate:"max=20"`
	Enabled         bool      `gorm:"not null;index" json:"enabled"`
	CooldownSeconds int       `gorm:"not null;default:0" json:"cooldown_seconds" validate:"gte=0"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *AlertThreshold) Validate() error {
	v := validator.New()

	return v.Struct(t)
}

func (t *AlertThreshold) Cooldown() time.Duration {
	if t.CooldownSeconds <= 0 {
		return DefaultAlertCooldown
	}
	return time.Duration(t.CooldownSeconds) * time.Second
}
