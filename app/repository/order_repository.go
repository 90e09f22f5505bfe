package repository

import (
	"context"
	"time"

	"github.com/agistaffers/backoffice/app/models"
	"gorm.io/gorm"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) GetByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return r.firstWhere(ctx, "order_number = ?", orderNumber)
}

func (r *orderRepository) GetByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	if paymentID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	return r.firstWhere(ctx, "gateway_payment_id = ?", paymentID)
}

// GetBySubscriptionID returns the newest order carrying the subscription id.
func (r *orderRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Order, error) {
	if subscriptionID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("id DESC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) firstWhere(ctx context.Context, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where(query, args...).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) List(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.CustomerID != 0 {
		q = q.Where("customer_id = ?", filter.CustomerID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var orders []models.Order
	err := q.Order("created_at DESC").Order("id DESC").Offset(filter.Offset).Limit(limit).Find(&orders).Error
	return orders, total, err
}

// CompareAndSetStatus applies updates only while the row still has fromStatus.
// false means another writer got there first and the caller must re-read.
func (r *orderRepository) CompareAndSetStatus(ctx context.Context, id uint, fromStatus string, updates map[string]interface{}) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *orderRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(updates).Error
}

func (r *orderRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.OrderStatusPending, before).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) CountActiveSubscriptions(ctx context.Context, customerID, excludeOrderID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("customer_id = ? AND order_type = ? AND status = ? AND id <> ?",
			customerID, models.OrderTypeSubscription, models.OrderStatusActive, excludeOrderID).
		Count(&count).Error
	return count, err
}

func (r *orderRepository) CountActiveForProduct(ctx context.Context, customerID uint, productID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("customer_id = ? AND product_id = ? AND order_type = ? AND status IN ?",
			customerID, productID, models.OrderTypeSubscription,
			[]string{models.OrderStatusActive, models.OrderStatusPendingDeposit}).
		Count(&count).Error
	return count, err
}
