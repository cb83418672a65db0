package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderdomain.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) FindByProviderRef(ctx context.Context, db *gorm.DB, providerOrderCode string) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		First(&order, "provider_order_code = ?", providerOrderCode).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderdomain.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) FindWithOpenShipments(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]orderdomain.Order, error) {
	var orders []orderdomain.Order
	err := db.WithContext(ctx).
		Where("fulfillment_ref <> '' AND order_state = ? AND payment_state = ? AND updated_at >= ?",
			orderdomain.OrderStateProcessing, gatewaydomain.PaymentStateCompleted, since).
		Order("id").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	return db.WithContext(ctx).
		Session(&gorm.Session{FullSaveAssociations: false}).
		Omit("Items").
		Save(order).Error
}
