package repository

import (
	"context"

	"github.com/agistaffers/backoffice/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type planMappingRepository struct {
	db *gorm.DB
}

func NewPlanMappingRepository(db *gorm.DB) PlanMappingRepository {
	return &planMappingRepository{db: db}
}

func (r *planMappingRepository) FindActive(ctx context.Context, provider, productID string) (*models.PlanMapping, error) {
	var m models.PlanMapping
	err := r.db.WithContext(ctx).
		Where("provider = ? AND product_id = ? AND is_active = ?", provider, productID, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *planMappingRepository) Upsert(ctx context.Context, mapping *models.PlanMapping) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "product_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"provider_plan_ref", "is_active", "updated_at"}),
	}).Create(mapping).Error; err != nil {
		return err
	}
	return db.Where("provider = ? AND product_id = ?", mapping.Provider, mapping.ProductID).First(mapping).Error
}
