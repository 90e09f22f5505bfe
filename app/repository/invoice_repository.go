package repository

import (
	"context"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type invoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

// CreateIfNotExists dedupes on ExternalRef; invoice is reloaded with the stored row.
func (r *invoiceRepository) CreateIfNotExists(ctx context.Context, invoice *models.Invoice) (bool, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_ref"}},
		DoNothing: true,
	}).Create(invoice)
	if tx.Error != nil {
		return false, tx.Error
	}
	created := tx.RowsAffected > 0
	if invoice.ExternalRef == nil {
		return created, nil
	}

	var stored models.Invoice
	if err := db.Where("external_ref = ?", *invoice.ExternalRef).First(&stored).Error; err != nil {
		return false, err
	}
	*invoice = stored
	return created, nil
}

func (r *invoiceRepository) GetByID(ctx context.Context, id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepository) GetByExternalRef(ctx context.Context, ref string) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).Where("external_ref = ?", ref).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepository) GetLatestByOrderID(ctx context.Context, orderID uint) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id DESC").First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepository) CompareAndSetStatus(ctx context.Context, id uint, fromStatus, toStatus string, paidAt *time.Time) (bool, error) {
	updates := map[string]interface{}{"status": toStatus}
	if paidAt != nil {
		updates["paid_at"] = paidAt
	}
	tx := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *invoiceRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status = ? AND order_id IS NOT NULL AND due_date IS NOT NULL AND due_date < ?", models.InvoiceStatusPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&invoices).Error
	return invoices, err
}
