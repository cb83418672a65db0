package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallcraft/commerce-core/internal/clock"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	"github.com/smallcraft/commerce-core/internal/observability/metrics"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxPauseMonths bounds how long a subscription can sit paused.
const maxPauseMonths = 3

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	metrics *metrics.Metrics

	gatewaysvc gatewaydomain.Service
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Metrics *metrics.Metrics

	Gatewaysvc gatewaydomain.Service
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,

		gatewaysvc: p.Gatewaysvc,
	}
}

// CreatePlan implements domain.Service.
func (s *Service) CreatePlan(ctx context.Context, req subscriptiondomain.CreatePlanRequest) (subscriptiondomain.Plan, error) {
	if strings.TrimSpace(req.Name) == "" || req.Price < 0 || strings.TrimSpace(req.Currency) == "" {
		return subscriptiondomain.Plan{}, subscriptiondomain.ErrInvalidRequest
	}
	switch req.Interval {
	case subscriptiondomain.BillingIntervalMonthly,
		subscriptiondomain.BillingIntervalQuarterly,
		subscriptiondomain.BillingIntervalYearly:
	default:
		return subscriptiondomain.Plan{}, subscriptiondomain.ErrInvalidInterval
	}
	if req.TrialDays < 0 {
		return subscriptiondomain.Plan{}, subscriptiondomain.ErrInvalidRequest
	}
	count := req.IntervalCount
	if count <= 0 {
		count = 1
	}

	now := s.clock.Now()
	plan := subscriptiondomain.Plan{
		ID:            s.genID.Generate(),
		Name:          strings.TrimSpace(req.Name),
		Price:         req.Price,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		Interval:      req.Interval,
		IntervalCount: count,
		TrialDays:     req.TrialDays,
		Features:      datatypes.JSONMap(req.Features),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertPlan(ctx, s.db, &plan); err != nil {
		return subscriptiondomain.Plan{}, err
	}

	s.log.Info("plan created",
		zap.Int64("plan_id", int64(plan.ID)),
		zap.String("name", plan.Name),
	)
	return plan, nil
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.CreateSubscriptionResponse, error) {
	if strings.TrimSpace(req.CustomerEmail) == "" {
		return subscriptiondomain.CreateSubscriptionResponse{}, subscriptiondomain.ErrInvalidRequest
	}
	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil {
		return subscriptiondomain.CreateSubscriptionResponse{}, subscriptiondomain.ErrInvalidRequest
	}

	plan, err := s.repo.FindPlanByID(ctx, s.db, planID)
	if err != nil {
		return subscriptiondomain.CreateSubscriptionResponse{}, err
	}

	now := s.clock.Now()
	subscription := subscriptiondomain.Subscription{
		ID:            s.genID.Generate(),
		PlanID:        plan.ID,
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	interval, count := subscription.EffectiveInterval(*plan)

	if plan.TrialDays > 0 && !req.SkipTrial {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		subscription.State = subscriptiondomain.SubscriptionStateTrialing
		subscription.TrialStart = &now
		subscription.TrialEnd = &trialEnd
		// The first billable period starts when the trial ends. No invoice
		// exists until then.
		subscription.CurrentPeriodStart = trialEnd
		subscription.CurrentPeriodEnd = subscriptiondomain.NextBillingDate(trialEnd, interval, count)

		if err := s.repo.Insert(ctx, s.db, &subscription); err != nil {
			return subscriptiondomain.CreateSubscriptionResponse{}, err
		}

		s.log.Info("subscription created",
			zap.Int64("subscription_id", int64(subscription.ID)),
			zap.String("state", string(subscription.State)),
			zap.Time("trial_end", trialEnd),
		)
		return subscriptiondomain.CreateSubscriptionResponse{Subscription: subscription}, nil
	}

	subscription.State = subscriptiondomain.SubscriptionStateActive
	subscription.CurrentPeriodStart = now
	subscription.CurrentPeriodEnd = subscriptiondomain.NextBillingDate(now, interval, count)

	checkout, err := s.gatewaysvc.CreateOrder(ctx, gatewaydomain.CreateOrderRequest{
		Amount:   plan.Price,
		Currency: plan.Currency,
		Customer: gatewaydomain.CustomerInfo{
			Name:  subscription.CustomerName,
			Email: subscription.CustomerEmail,
		},
		MerchantRef: fmt.Sprintf("SUB-%d-%d", subscription.ID, subscription.CurrentPeriodStart.Unix()),
		Description: fmt.Sprintf("Subscription to %s", plan.Name),
		Recurring:   true,
	})
	if err != nil {
		return subscriptiondomain.CreateSubscriptionResponse{}, err
	}

	invoice := subscriptiondomain.Invoice{
		ID:             s.genID.Generate(),
		SubscriptionID: subscription.ID,
		PeriodStart:    subscription.CurrentPeriodStart,
		Amount:         plan.Price,
		Currency:       plan.Currency,
		Status:         subscriptiondomain.InvoiceStatusPending,
		DueDate:        subscription.CurrentPeriodEnd,
		ProviderRef:    checkout.ProviderOrderCode,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}
		return s.repo.InsertInvoice(ctx, tx, &invoice)
	})
	if err != nil {
		return subscriptiondomain.CreateSubscriptionResponse{}, err
	}

	s.log.Info("subscription created",
		zap.Int64("subscription_id", int64(subscription.ID)),
		zap.String("state", string(subscription.State)),
		zap.Int64("invoice_id", int64(invoice.ID)),
	)
	return subscriptiondomain.CreateSubscriptionResponse{
		Subscription: subscription,
		Invoice:      &invoice,
		CheckoutURL:  checkout.CheckoutURL,
	}, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return *subscription, nil
}

// Renew implements domain.Service.
func (s *Service) Renew(ctx context.Context, id snowflake.ID) (subscriptiondomain.RenewResult, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.RenewResult{}, err
	}
	now := s.clock.Now()

	switch subscription.State {
	case subscriptiondomain.SubscriptionStateCanceled:
		return subscriptiondomain.RenewResult{Skipped: true, Subscription: *subscription}, nil
	case subscriptiondomain.SubscriptionStatePaused:
		return subscriptiondomain.RenewResult{Skipped: true, Subscription: *subscription}, nil
	}

	if subscription.CancelAtPeriodEnd {
		if now.Before(subscription.CurrentPeriodEnd) {
			// A flagged subscription rides out its paid period and never
			// gets another invoice.
			return subscriptiondomain.RenewResult{Skipped: true, Subscription: *subscription}, nil
		}
		return s.finishCancellation(ctx, subscription, now)
	}

	plan, err := s.repo.FindPlanByID(ctx, s.db, subscription.PlanID)
	if err != nil {
		return subscriptiondomain.RenewResult{}, err
	}
	interval, count := subscription.EffectiveInterval(*plan)

	// A trial-ending subscription bills its already-scheduled first period;
	// an active one bills the period that starts where the current one ends.
	periodStart := subscription.CurrentPeriodEnd
	periodEnd := subscriptiondomain.NextBillingDate(periodStart, interval, count)
	if subscription.State == subscriptiondomain.SubscriptionStateTrialing {
		periodStart = subscription.CurrentPeriodStart
		periodEnd = subscription.CurrentPeriodEnd
	}

	if existing, err := s.repo.FindInvoiceForPeriod(ctx, s.db, subscription.ID, periodStart); err == nil {
		// Cron re-run inside the same period. Nothing to bill.
		return subscriptiondomain.RenewResult{Skipped: true, Subscription: *subscription, Invoice: existing}, nil
	} else if err != subscriptiondomain.ErrInvoiceNotFound {
		return subscriptiondomain.RenewResult{}, err
	}

	invoice := subscriptiondomain.Invoice{
		ID:             s.genID.Generate(),
		SubscriptionID: subscription.ID,
		PeriodStart:    periodStart,
		Amount:         plan.Price,
		Currency:       plan.Currency,
		Status:         subscriptiondomain.InvoiceStatusPending,
		DueDate:        periodEnd,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var checkoutURL string
	if subscription.SavedPaymentMethodRef != "" {
		ref, err := s.gatewaysvc.CreateRecurringCharge(ctx, gatewaydomain.RecurringChargeRequest{
			OriginalOrderRef: subscription.SavedPaymentMethodRef,
			Amount:           plan.Price,
			Currency:         plan.Currency,
			Description:      fmt.Sprintf("Renewal of %s", plan.Name),
		})
		if err != nil {
			// The charge was never created, so no webhook will ever arrive
			// for it. Flip to PastDue now instead of waiting forever.
			return s.markPastDue(ctx, subscription, invoice, now, err)
		}
		invoice.ProviderRef = ref
	} else {
		checkout, err := s.gatewaysvc.CreateOrder(ctx, gatewaydomain.CreateOrderRequest{
			Amount:   plan.Price,
			Currency: plan.Currency,
			Customer: gatewaydomain.CustomerInfo{
				Name:  subscription.CustomerName,
				Email: subscription.CustomerEmail,
			},
			MerchantRef: fmt.Sprintf("SUB-%d-%d", subscription.ID, periodStart.Unix()),
			Description: fmt.Sprintf("Renewal of %s", plan.Name),
			Recurring:   true,
		})
		if err != nil {
			return s.markPastDue(ctx, subscription, invoice, now, err)
		}
		invoice.ProviderRef = checkout.ProviderOrderCode
		checkoutURL = checkout.CheckoutURL
	}

	if err := s.repo.InsertInvoice(ctx, s.db, &invoice); err != nil {
		return subscriptiondomain.RenewResult{}, err
	}

	s.metrics.RecordRenewal(ctx, "invoiced")
	s.log.Info("renewal invoiced",
		zap.Int64("subscription_id", int64(subscription.ID)),
		zap.Int64("invoice_id", int64(invoice.ID)),
		zap.Time("period_start", periodStart),
	)
	return subscriptiondomain.RenewResult{
		Subscription: *subscription,
		Invoice:      &invoice,
		CheckoutURL:  checkoutURL,
	}, nil
}

func (s *Service) finishCancellation(ctx context.Context, subscription *subscriptiondomain.Subscription, now time.Time) (subscriptiondomain.RenewResult, error) {
	subscription.State = subscriptiondomain.SubscriptionStateCanceled
	subscription.CanceledAt = &now
	subscription.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, subscription); err != nil {
		return subscriptiondomain.RenewResult{}, err
	}

	s.cancelRecurring(ctx, subscription)
	s.metrics.RecordRenewal(ctx, "canceled")
	s.log.Info("subscription canceled at period end",
		zap.Int64("subscription_id", int64(subscription.ID)),
	)
	return subscriptiondomain.RenewResult{Skipped: true, Subscription: *subscription}, nil
}

func (s *Service) markPastDue(ctx context.Context, subscription *subscriptiondomain.Subscription, invoice subscriptiondomain.Invoice, now time.Time, cause error) (subscriptiondomain.RenewResult, error) {
	invoice.Status = subscriptiondomain.InvoiceStatusFailed
	subscription.State = subscriptiondomain.SubscriptionStatePastDue
	subscription.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertInvoice(ctx, tx, &invoice); err != nil {
			return err
		}
		return s.repo.Update(ctx, tx, subscription)
	})
	if err != nil {
		return subscriptiondomain.RenewResult{}, err
	}

	s.metrics.RecordRenewal(ctx, "past_due")
	s.log.Warn("renewal charge failed",
		zap.Int64("subscription_id", int64(subscription.ID)),
		zap.Error(cause),
	)
	return subscriptiondomain.RenewResult{Subscription: *subscription, Invoice: &invoice}, nil
}

// ReconcilePayment implements domain.Service.
func (s *Service) ReconcilePayment(ctx context.Context, invoiceID snowflake.ID, state gatewaydomain.PaymentState) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.repo.FindInvoiceByID(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		subscription, err := s.repo.FindByID(ctx, tx, invoice.SubscriptionID)
		if err != nil {
			return err
		}
		plan, err := s.repo.FindPlanByID(ctx, tx, subscription.PlanID)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		switch state {
		case gatewaydomain.PaymentStateCompleted:
			if invoice.Status == subscriptiondomain.InvoiceStatusPaid {
				return nil
			}
			invoice.Status = subscriptiondomain.InvoiceStatusPaid
			invoice.PaidAt = &now
			invoice.UpdatedAt = now
			if err := s.repo.UpdateInvoice(ctx, tx, invoice); err != nil {
				return err
			}

			interval, count := subscription.EffectiveInterval(*plan)
			subscription.State = subscriptiondomain.SubscriptionStateActive
			subscription.CurrentPeriodStart = invoice.PeriodStart
			subscription.CurrentPeriodEnd = subscriptiondomain.NextBillingDate(invoice.PeriodStart, interval, count)
			if subscription.SavedPaymentMethodRef == "" && invoice.ProviderRef != "" {
				// First successful checkout vaulted the payment method.
				subscription.SavedPaymentMethodRef = invoice.ProviderRef
			}
			subscription.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, subscription); err != nil {
				return err
			}

			s.metrics.RecordRenewal(ctx, "paid")
			s.log.Info("invoice paid",
				zap.Int64("subscription_id", int64(subscription.ID)),
				zap.Int64("invoice_id", int64(invoice.ID)),
				zap.Time("period_end", subscription.CurrentPeriodEnd),
			)
			return nil

		case gatewaydomain.PaymentStateFailed, gatewaydomain.PaymentStateCancelled:
			if invoice.Status == subscriptiondomain.InvoiceStatusFailed {
				return nil
			}
			if invoice.Status == subscriptiondomain.InvoiceStatusPaid {
				// A late failure webhook for an already-paid invoice is
				// provider noise, not a state regression.
				return nil
			}
			invoice.Status = subscriptiondomain.InvoiceStatusFailed
			invoice.UpdatedAt = now
			if err := s.repo.UpdateInvoice(ctx, tx, invoice); err != nil {
				return err
			}

			subscription.State = subscriptiondomain.SubscriptionStatePastDue
			subscription.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, subscription); err != nil {
				return err
			}

			s.metrics.RecordRenewal(ctx, "failed")
			s.log.Warn("invoice payment failed",
				zap.Int64("subscription_id", int64(subscription.ID)),
				zap.Int64("invoice_id", int64(invoice.ID)),
				zap.String("payment_state", string(state)),
			)
			return nil

		default:
			return nil
		}
	})
}

// Pause implements domain.Service.
func (s *Service) Pause(ctx context.Context, id snowflake.ID, req subscriptiondomain.PauseRequest) (subscriptiondomain.Subscription, error) {
	if req.Months < 1 || req.Months > maxPauseMonths {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidPauseWindow
	}

	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription.State != subscriptiondomain.SubscriptionStateActive {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStateTransition
	}

	now := s.clock.Now()
	until := now.AddDate(0, req.Months, 0)
	subscription.State = subscriptiondomain.SubscriptionStatePaused
	subscription.PausedAt = &now
	subscription.PausedUntil = &until
	subscription.PauseReason = strings.TrimSpace(req.Reason)
	// The customer keeps the time already paid for: the period end shifts
	// by exactly the pause length.
	subscription.CurrentPeriodEnd = subscription.CurrentPeriodEnd.AddDate(0, req.Months, 0)
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, s.db, subscription); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription paused",
		zap.Int64("subscription_id", int64(subscription.ID)),
		zap.Int("months", req.Months),
		zap.Time("paused_until", until),
	)
	return *subscription, nil
}

// Resume implements domain.Service.
func (s *Service) Resume(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	switch subscription.State {
	case subscriptiondomain.SubscriptionStateActive:
		// Double invocation, e.g. a manual resume racing the pause-expiry
		// cron. Nothing to do.
		return *subscription, nil
	case subscriptiondomain.SubscriptionStatePaused:
	default:
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStateTransition
	}

	now := s.clock.Now()
	subscription.State = subscriptiondomain.SubscriptionStateActive
	subscription.PausedAt = nil
	subscription.PausedUntil = nil
	subscription.PauseReason = ""
	subscription.UpdatedAt = now

	if err := s.repo.Update(ctx, s.db, subscription); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription resumed",
		zap.Int64("subscription_id", int64(subscription.ID)),
	)
	return *subscription, nil
}

// Cancel implements domain.Service.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID, req subscriptiondomain.CancelRequest) (subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription.State == subscriptiondomain.SubscriptionStateCanceled {
		return *subscription, nil
	}

	now := s.clock.Now()
	if req.AtPeriodEnd {
		subscription.CancelAtPeriodEnd = true
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, s.db, subscription); err != nil {
			return subscriptiondomain.Subscription{}, err
		}

		s.log.Info("subscription flagged for cancellation",
			zap.Int64("subscription_id", int64(subscription.ID)),
			zap.Time("effective", subscription.CurrentPeriodEnd),
		)
		return *subscription, nil
	}

	subscription.State = subscriptiondomain.SubscriptionStateCanceled
	subscription.CanceledAt = &now
	subscription.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, subscription); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.cancelRecurring(ctx, subscription)
	s.log.Info("subscription canceled",
		zap.Int64("subscription_id", int64(subscription.ID)),
	)
	return *subscription, nil
}

// cancelRecurring revokes the provider-side mandate. Best effort: the
// subscription is already canceled locally, a provider hiccup only means
// the mandate dies on its own later.
func (s *Service) cancelRecurring(ctx context.Context, subscription *subscriptiondomain.Subscription) {
	if subscription.SavedPaymentMethodRef == "" {
		return
	}
	if _, err := s.gatewaysvc.CancelRecurringCharge(ctx, subscription.SavedPaymentMethodRef); err != nil {
		s.log.Warn("recurring charge cancel failed",
			zap.Int64("subscription_id", int64(subscription.ID)),
			zap.Error(err),
		)
	}
}

// ChangeFrequency implements domain.Service.
func (s *Service) ChangeFrequency(ctx context.Context, id snowflake.ID, req subscriptiondomain.ChangeFrequencyRequest) (subscriptiondomain.Subscription, error) {
	switch req.Interval {
	case subscriptiondomain.BillingIntervalMonthly,
		subscriptiondomain.BillingIntervalQuarterly,
		subscriptiondomain.BillingIntervalYearly:
	default:
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidInterval
	}
	count := req.IntervalCount
	if count <= 0 {
		count = 1
	}

	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription.State == subscriptiondomain.SubscriptionStateCanceled {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStateTransition
	}

	subscription.IntervalOverride = req.Interval
	subscription.IntervalCountOverride = count
	subscription.CurrentPeriodEnd = subscriptiondomain.NextBillingDate(subscription.CurrentPeriodStart, req.Interval, count)
	subscription.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, s.db, subscription); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("billing frequency changed",
		zap.Int64("subscription_id", int64(subscription.ID)),
		zap.String("interval", string(req.Interval)),
		zap.Int("interval_count", count),
	)
	return *subscription, nil
}

// PurchaseAddOn implements domain.Service.
func (s *Service) PurchaseAddOn(ctx context.Context, id snowflake.ID, req subscriptiondomain.PurchaseAddOnRequest) (subscriptiondomain.PurchaseAddOnResponse, error) {
	if req.Quantity <= 0 || req.OriginalPrice < 0 || strings.TrimSpace(req.ProductSKU) == "" {
		return subscriptiondomain.PurchaseAddOnResponse{}, subscriptiondomain.ErrInvalidRequest
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		return subscriptiondomain.PurchaseAddOnResponse{}, subscriptiondomain.ErrInvalidRequest
	}

	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.PurchaseAddOnResponse{}, err
	}
	if subscription.State == subscriptiondomain.SubscriptionStateCanceled {
		return subscriptiondomain.PurchaseAddOnResponse{}, subscriptiondomain.ErrInvalidStateTransition
	}

	now := s.clock.Now()
	finalPrice := int64(req.Quantity) * req.OriginalPrice * int64(100-req.DiscountPercent) / 100
	addon := subscriptiondomain.SubscriptionAddOn{
		ID:              s.genID.Generate(),
		SubscriptionID:  subscription.ID,
		ProductSKU:      strings.TrimSpace(req.ProductSKU),
		ProductName:     req.ProductName,
		Quantity:        req.Quantity,
		OriginalPrice:   req.OriginalPrice,
		DiscountPercent: req.DiscountPercent,
		FinalPrice:      finalPrice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	plan, err := s.repo.FindPlanByID(ctx, s.db, subscription.PlanID)
	if err != nil {
		return subscriptiondomain.PurchaseAddOnResponse{}, err
	}

	checkout, err := s.gatewaysvc.CreateOrder(ctx, gatewaydomain.CreateOrderRequest{
		Amount:   finalPrice,
		Currency: plan.Currency,
		Customer: gatewaydomain.CustomerInfo{
			Name:  subscription.CustomerName,
			Email: subscription.CustomerEmail,
		},
		MerchantRef: fmt.Sprintf("ADDON-%d", addon.ID),
		Description: fmt.Sprintf("Add-on %s x%d", addon.ProductSKU, addon.Quantity),
	})
	if err != nil {
		return subscriptiondomain.PurchaseAddOnResponse{}, err
	}
	addon.ProviderRef = checkout.ProviderOrderCode

	if err := s.repo.InsertAddOn(ctx, s.db, &addon); err != nil {
		return subscriptiondomain.PurchaseAddOnResponse{}, err
	}

	s.metrics.RecordAddOnPurchase(ctx)
	s.log.Info("addon purchased",
		zap.Int64("subscription_id", int64(subscription.ID)),
		zap.String("sku", addon.ProductSKU),
		zap.Int64("final_price", finalPrice),
	)
	return subscriptiondomain.PurchaseAddOnResponse{AddOn: addon, CheckoutURL: checkout.CheckoutURL}, nil
}

// GetInvoiceByProviderRef implements domain.Service.
func (s *Service) GetInvoiceByProviderRef(ctx context.Context, providerRef string) (subscriptiondomain.Invoice, error) {
	invoice, err := s.repo.FindInvoiceByProviderRef(ctx, s.db, providerRef)
	if err != nil {
		return subscriptiondomain.Invoice{}, err
	}
	return *invoice, nil
}
