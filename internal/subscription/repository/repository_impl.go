package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *subscriptiondomain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Plan, error) {
	var plan subscriptiondomain.Plan
	err := db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).First(&subscription, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrNotFound
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Save(subscription).Error
}

func (r *repo) FindDueForRenewal(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("current_period_end <= ? AND state NOT IN ?", now, []subscriptiondomain.SubscriptionState{
			subscriptiondomain.SubscriptionStateCanceled,
			subscriptiondomain.SubscriptionStatePaused,
			subscriptiondomain.SubscriptionStateTrialing,
		}).
		Order("current_period_end").
		Limit(limit).
		Find(&subscriptions).Error
	return subscriptions, err
}

func (r *repo) FindTrialExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("state = ? AND trial_end IS NOT NULL AND trial_end <= ?",
			subscriptiondomain.SubscriptionStateTrialing, now).
		Order("trial_end").
		Limit(limit).
		Find(&subscriptions).Error
	return subscriptions, err
}

func (r *repo) FindPauseExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("state = ? AND paused_until IS NOT NULL AND paused_until <= ?",
			subscriptiondomain.SubscriptionStatePaused, now).
		Order("paused_until").
		Limit(limit).
		Find(&subscriptions).Error
	return subscriptions, err
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *subscriptiondomain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) FindInvoiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Invoice, error) {
	var invoice subscriptiondomain.Invoice
	err := db.WithContext(ctx).First(&invoice, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) FindInvoiceByProviderRef(ctx context.Context, db *gorm.DB, providerRef string) (*subscriptiondomain.Invoice, error) {
	var invoice subscriptiondomain.Invoice
	err := db.WithContext(ctx).First(&invoice, "provider_ref = ?", providerRef).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) FindInvoiceForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*subscriptiondomain.Invoice, error) {
	var invoice subscriptiondomain.Invoice
	err := db.WithContext(ctx).
		First(&invoice, "subscription_id = ? AND period_start = ?", subscriptionID, periodStart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subscriptiondomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) UpdateInvoice(ctx context.Context, db *gorm.DB, invoice *subscriptiondomain.Invoice) error {
	return db.WithContext(ctx).Save(invoice).Error
}

func (r *repo) InsertAddOn(ctx context.Context, db *gorm.DB, addon *subscriptiondomain.SubscriptionAddOn) error {
	return db.WithContext(ctx).Create(addon).Error
}
