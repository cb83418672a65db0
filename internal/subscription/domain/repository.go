package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)

	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// FindDueForRenewal returns subscriptions whose current period has
	// elapsed, excluding Canceled and Paused.
	FindDueForRenewal(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	FindTrialExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	FindPauseExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)

	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindInvoiceByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindInvoiceByProviderRef(ctx context.Context, db *gorm.DB, providerRef string) (*Invoice, error)
	FindInvoiceForPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*Invoice, error)
	UpdateInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error

	InsertAddOn(ctx context.Context, db *gorm.DB, addon *SubscriptionAddOn) error
}
