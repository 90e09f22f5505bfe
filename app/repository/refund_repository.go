package repository

import (
	"context"

	"github.com/agistaffers/backoffice/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type refundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepository{db: db}
}

func (r *refundRepository) CreateIfNotExists(ctx context.Context, refund *models.Refund) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_refund_id"}},
		DoNothing: true,
	}).Create(refund)
	return tx.RowsAffected > 0, tx.Error
}

func (r *refundRepository) ListByOrderID(ctx context.Context, orderID uint) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&refunds).Error
	return refunds, err
}
