package repository

import (
	"context"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"gorm.io/gorm"
)

type supportTicketRepository struct {
	db *gorm.DB
}

func NewSupportTicketRepository(db *gorm.DB) SupportTicketRepository {
	return &supportTicketRepository{db: db}
}

func (r *supportTicketRepository) Create(ctx context.Context, ticket *models.SupportTicket) error {
	return r.db.WithContext(ctx).Create(ticket).Error
}

func (r *supportTicketRepository) GetByID(ctx context.Context, id uint) (*models.SupportTicket, error) {
	var ticket models.SupportTicket
	if err := r.db.WithContext(ctx).First(&ticket, id).Error; err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *supportTicketRepository) GetOpenByOrderID(ctx context.Context, orderID uint) (*models.SupportTicket, error) {
	var ticket models.SupportTicket
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, models.TicketStatusOpen).
		First(&ticket).Error
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *supportTicketRepository) Close(ctx context.Context, id uint, closedAt time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.SupportTicket{}).
		Where("id = ? AND status = ?", id, models.TicketStatusOpen).
		Updates(map[string]interface{}{"status": models.TicketStatusClosed, "closed_at": closedAt})
	return tx.RowsAffected > 0, tx.Error
}
