package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
)

type CreateSubscriptionRequest struct {
	PlanID        string `json:"plan_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	// SkipTrial starts billing immediately even when the plan has trial days.
	SkipTrial bool `json:"skip_trial,omitempty"`
}

type CreateSubscriptionResponse struct {
	Subscription Subscription `json:"subscription"`
	Invoice      *Invoice     `json:"invoice,omitempty"`
	CheckoutURL  string       `json:"checkout_url,omitempty"`
}

type RenewResult struct {
	Skipped      bool
	Subscription Subscription
	Invoice      *Invoice
	CheckoutURL  string
}

type PauseRequest struct {
	Months int    `json:"months"`
	Reason string `json:"reason,omitempty"`
}

type CancelRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

type ChangeFrequencyRequest struct {
	Interval      BillingInterval `json:"interval"`
	IntervalCount int             `json:"interval_count"`
}

type PurchaseAddOnRequest struct {
	ProductSKU      string `json:"product_sku"`
	ProductName     string `json:"product_name,omitempty"`
	Quantity        int    `json:"quantity"`
	OriginalPrice   int64  `json:"original_price"`
	DiscountPercent int    `json:"discount_percent,omitempty"`
}

type PurchaseAddOnResponse struct {
	AddOn       SubscriptionAddOn `json:"addon"`
	CheckoutURL string            `json:"checkout_url"`
}

type CreatePlanRequest struct {
	Name          string          `json:"name"`
	Price         int64           `json:"price"`
	Currency      string          `json:"currency"`
	Interval      BillingInterval `json:"interval"`
	IntervalCount int             `json:"interval_count,omitempty"`
	TrialDays     int             `json:"trial_days,omitempty"`
	Features      map[string]any  `json:"features,omitempty"`
}

type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (Plan, error)
	Create(ctx context.Context, req CreateSubscriptionRequest) (CreateSubscriptionResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (Subscription, error)
	// Renew is the cron entry point. It is idempotent per billing period:
	// a period that already has an invoice is not billed again.
	Renew(ctx context.Context, id snowflake.ID) (RenewResult, error)
	// ReconcilePayment applies a webhook outcome to a subscription invoice.
	ReconcilePayment(ctx context.Context, invoiceID snowflake.ID, state gatewaydomain.PaymentState) error
	Pause(ctx context.Context, id snowflake.ID, req PauseRequest) (Subscription, error)
	Resume(ctx context.Context, id snowflake.ID) (Subscription, error)
	Cancel(ctx context.Context, id snowflake.ID, req CancelRequest) (Subscription, error)
	ChangeFrequency(ctx context.Context, id snowflake.ID, req ChangeFrequencyRequest) (Subscription, error)
	PurchaseAddOn(ctx context.Context, id snowflake.ID, req PurchaseAddOnRequest) (PurchaseAddOnResponse, error)
	GetInvoiceByProviderRef(ctx context.Context, providerRef string) (Invoice, error)
}

// NextBillingDate computes the end of the period starting at start. Date
// arithmetic follows time.Time.AddDate, so month-length overflow
// normalizes forward (Jan 31 plus one month lands in early March).
func NextBillingDate(start time.Time, interval BillingInterval, count int) time.Time {
	if count <= 0 {
		count = 1
	}
	switch interval {
	case BillingIntervalMonthly:
		return start.AddDate(0, count, 0)
	case BillingIntervalQuarterly:
		return start.AddDate(0, 3*count, 0)
	case BillingIntervalYearly:
		return start.AddDate(count, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}

var (
	ErrNotFound               = errors.New("subscription_not_found")
	ErrPlanNotFound           = errors.New("plan_not_found")
	ErrInvoiceNotFound        = errors.New("invoice_not_found")
	ErrInvalidRequest         = errors.New("subscription_invalid_request")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrInvalidPauseWindow     = errors.New("invalid_pause_window")
	ErrInvalidInterval        = errors.New("invalid_billing_interval")
)
