package repository

import (
	"context"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"gorm.io/gorm"
)

type bankDepositRepository struct {
	db *gorm.DB
}

func NewBankDepositRepository(db *gorm.DB) BankDepositRepository {
	return &bankDepositRepository{db: db}
}

func (r *bankDepositRepository) Create(ctx context.Context, deposit *models.BankDeposit) error {
	return r.db.WithContext(ctx).Create(deposit).Error
}

func (r *bankDepositRepository) GetByID(ctx context.Context, id uint) (*models.BankDeposit, error) {
	var deposit models.BankDeposit
	if err := r.db.WithContext(ctx).First(&deposit, id).Error; err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (r *bankDepositRepository) List(ctx context.Context, status string, offset, limit int) ([]models.BankDeposit, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.BankDeposit{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var deposits []models.BankDeposit
	err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&deposits).Error
	return deposits, total, err
}

// Resolve moves a pending deposit to toStatus. false means it was already resolved.
func (r *bankDepositRepository) Resolve(ctx context.Context, id uint, toStatus string, verifiedAt *time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.BankDeposit{}).
		Where("id = ? AND status = ?", id, models.BankDepositStatusPending).
		Updates(map[string]interface{}{"status": toStatus, "verified_at": verifiedAt})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *bankDepositRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.BankDeposit, error) {
	var deposits []models.BankDeposit
	err := r.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", models.BankDepositStatusPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&deposits).Error
	return deposits, err
}

func (r *bankDepositRepository) CountPendingByInvoice(ctx context.Context, invoiceID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.BankDeposit{}).
		Where("invoice_id = ? AND status = ?", invoiceID, models.BankDepositStatusPending).
		Count(&count).Error
	return count, err
}
