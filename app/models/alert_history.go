package models

import "time"

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	AlertKindThreshold     = "threshold"
	AlertKindContainerDown = "container_down"
)

// AlertHistory is the reporting copy of every emitted alert.
type AlertHistory struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AlertID        string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"alert_id"`
	Kind           string    `gorm:"type:varchar(20);not null;index" json:"kind"`
	ThresholdKey   string    `gorm:"type:varchar(100);default:'';index" json:"threshold_key"`
	Metric         string    `gorm:"type:varchar(100);not null" json:"metric"`
	Value          float64   `json:"value"`
	ThresholdValue float64   `json:"threshold_value"`
	Severity       string    `gorm:"type:varchar(10);not null;index" json:"severity"`
	Message        string    `gorm:"type:text" json:"message"`
	FiredAt        time.Time `gorm:"type:timestamp;not null;index" json:"fired_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AlertHistory) TableName() string {
	return "alert_history"
}
