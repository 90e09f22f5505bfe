package repository

import (
	"context"

	"github.com/agistaffers/backoffice/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gatewayAccountRepository struct {
	db *gorm.DB
}

func NewGatewayAccountRepository(db *gorm.DB) GatewayAccountRepository {
	return &gatewayAccountRepository{db: db}
}

func (r *gatewayAccountRepository) Get(ctx context.Context, customerID uint, provider string) (*models.GatewayAccount, error) {
	var account models.GatewayAccount
	err := r.db.WithContext(ctx).Where("customer_id = ? AND provider = ?", customerID, provider).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gatewayAccountRepository) Upsert(ctx context.Context, account *models.GatewayAccount) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "customer_id"},
			{Name: "provider"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_customer_id",
			"card_id",
			"card_last4",
			"updated_at",
		}),
	}).Create(account).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return db.Where("customer_id = ? AND provider = ?", account.CustomerID, account.Provider).First(account).Error
}
