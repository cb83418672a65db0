// Package domain contains persistence models for subscriptions, plans,
// invoices and add-on purchases.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionState represents lifecycle states for a subscription.
type SubscriptionState string

const (
	SubscriptionStateTrialing SubscriptionState = "TRIALING"
	SubscriptionStateActive   SubscriptionState = "ACTIVE"
	SubscriptionStatePastDue  SubscriptionState = "PAST_DUE"
	SubscriptionStatePaused   SubscriptionState = "PAUSED"
	SubscriptionStateCanceled SubscriptionState = "CANCELED"
)

// BillingInterval is the recurrence unit of a plan.
type BillingInterval string

const (
	BillingIntervalMonthly   BillingInterval = "MONTHLY"
	BillingIntervalQuarterly BillingInterval = "QUARTERLY"
	BillingIntervalYearly    BillingInterval = "YEARLY"
)

// InvoiceStatus represents lifecycle states for a billing attempt.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "PENDING"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusFailed  InvoiceStatus = "FAILED"
)

// Plan is a billable offering. Price is in minor currency units. A plan is
// immutable once a subscription references it.
type Plan struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	Name          string            `gorm:"type:text;not null"`
	Price         int64             `gorm:"not null"`
	Currency      string            `gorm:"type:text;not null"`
	Interval      BillingInterval   `gorm:"type:text;not null"`
	IntervalCount int               `gorm:"not null;default:1"`
	TrialDays     int               `gorm:"not null;default:0"`
	Features      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// Subscription captures a customer's recurring billing agreement.
// IntervalOverride, when set, takes precedence over the plan's interval for
// every future period computation.
type Subscription struct {
	ID     snowflake.ID      `gorm:"primaryKey"`
	PlanID snowflake.ID      `gorm:"not null;index"`
	State  SubscriptionState `gorm:"type:text;not null;index"`

	CustomerName  string `gorm:"type:text;not null"`
	CustomerEmail string `gorm:"type:text;not null;index"`

	CurrentPeriodStart time.Time `gorm:"not null"`
	CurrentPeriodEnd   time.Time `gorm:"not null;index"`

	TrialStart *time.Time `gorm:""`
	TrialEnd   *time.Time `gorm:"index"`

	PausedAt    *time.Time `gorm:""`
	PausedUntil *time.Time `gorm:"index"`
	PauseReason string     `gorm:"type:text"`

	IntervalOverride      BillingInterval `gorm:"type:text"`
	IntervalCountOverride int             `gorm:"not null;default:0"`

	// SavedPaymentMethodRef is the provider order code of the checkout that
	// vaulted the payment method. Set once, on the first paid invoice.
	SavedPaymentMethodRef string `gorm:"type:text"`

	CancelAtPeriodEnd bool       `gorm:"not null;default:false"`
	CanceledAt        *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// EffectiveInterval resolves the billing interval, preferring the
// subscription-level override over the plan.
func (s Subscription) EffectiveInterval(plan Plan) (BillingInterval, int) {
	if s.IntervalOverride != "" {
		count := s.IntervalCountOverride
		if count <= 0 {
			count = 1
		}
		return s.IntervalOverride, count
	}
	count := plan.IntervalCount
	if count <= 0 {
		count = 1
	}
	return plan.Interval, count
}

// Invoice is one billing attempt for a subscription period. PeriodStart
// identifies the covered period; at most one invoice exists per
// (subscription, period start), which is what makes the renewal cron safe
// to re-run.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	SubscriptionID snowflake.ID  `gorm:"not null;index;uniqueIndex:idx_invoices_sub_period"`
	PeriodStart    time.Time     `gorm:"not null;uniqueIndex:idx_invoices_sub_period"`
	Amount         int64         `gorm:"not null"`
	Currency       string        `gorm:"type:text;not null"`
	Status         InvoiceStatus `gorm:"type:text;not null;index"`
	DueDate        time.Time     `gorm:"not null"`
	PaidAt         *time.Time    `gorm:""`
	ProviderRef    string        `gorm:"type:text;index"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// SubscriptionAddOn is a one-off discounted purchase attached to a
// subscription. It carries its own provider reference and is reconciled
// through the one-off order webhook path, independent of renewals.
type SubscriptionAddOn struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`

	ProductSKU      string `gorm:"type:text;not null"`
	ProductName     string `gorm:"type:text"`
	Quantity        int    `gorm:"not null"`
	OriginalPrice   int64  `gorm:"not null"`
	DiscountPercent int    `gorm:"not null;default:0"`
	FinalPrice      int64  `gorm:"not null"`

	ProviderRef string `gorm:"type:text;index"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionAddOn) TableName() string { return "subscription_addons" }
