package repository

import (
	"context"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"gorm.io/gorm"
)

type alertThresholdRepository struct {
	db *gorm.DB
}

func NewAlertThresholdRepository(db *gorm.DB) AlertThresholdRepository {
	return &alertThresholdRepository{db: db}
}

func (r *alertThresholdRepository) List(ctx context.Context) ([]models.AlertThreshold, error) {
	var thresholds []models.AlertThreshold
	err := r.db.WithContext(ctx).Order("id ASC").Find(&thresholds).Error
	return thresholds, err
}

func (r *alertThresholdRepository) ListEnabled(ctx context.Context) ([]models.AlertThreshold, error) {
	var thresholds []models.AlertThreshold
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("id ASC").Find(&thresholds).Error
	return thresholds, err
}

// ReplaceAll swaps the whole threshold set atomically.
func (r *alertThresholdRepository) ReplaceAll(ctx context.Context, thresholds []models.AlertThreshold) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.AlertThreshold{}).Error; err != nil {
			return err
		}
		if len(thresholds) == 0 {
			return nil
		}
		for i := range thresholds {
			thresholds[i].ID = 0
		}
		return tx.Create(&thresholds).Error
	})
}

type alertHistoryRepository struct {
	db *gorm.DB
}

func NewAlertHistoryRepository(db *gorm.DB) AlertHistoryRepository {
	return &alertHistoryRepository{db: db}
}

func (r *alertHistoryRepository) Create(ctx context.Context, entry *models.AlertHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *alertHistoryRepository) ListRecent(ctx context.Context, limit int) ([]models.AlertHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.AlertHistory
	err := r.db.WithContext(ctx).Order("fired_at DESC").Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *alertHistoryRepository) CountBySeveritySince(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Severity string
		Count    int64
	}
	err := r.db.WithContext(ctx).Model(&models.AlertHistory{}).
		Select("severity, COUNT(*) AS count").
		Where("fired_at >= ?", since).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{models.SeverityWarning: 0, models.SeverityCritical: 0}
	for _, row := range rows {
		out[row.Severity] = row.Count
	}
	return out, nil
}

func (r *alertHistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("fired_at < ?", cutoff).Delete(&models.AlertHistory{})
	return tx.RowsAffected, tx.Error
}
