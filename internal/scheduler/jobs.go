package scheduler

import (
	"context"
	"errors"

	fulfillmentdomain "github.com/smallcraft/commerce-core/internal/fulfillment/domain"
	obsmetrics "github.com/smallcraft/commerce-core/internal/observability/metrics"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
	"go.uber.org/zap"
)

// RenewalsJob invoices every subscription whose current period has elapsed.
// Renew is idempotent per period, so overlapping ticks or a crash between
// batches cannot double-bill anyone.
func (s *Scheduler) RenewalsJob(ctx context.Context) error {
	now := s.clock.Now()
	due, err := s.subscriptionRepo.FindDueForRenewal(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	processed := 0
	for _, subscription := range due {
		if ctx.Err() != nil {
			errs = errors.Join(errs, ctx.Err())
			break
		}
		if _, err := s.subscriptionSvc.Renew(ctx, subscription.ID); err != nil {
			errs = errors.Join(errs, err)
			s.log.Warn("renewal failed",
				zap.String("job", "renewals"),
				zap.Int64("subscription_id", int64(subscription.ID)),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	obsmetrics.Scheduler().AddBatchProcessed("renewals", processed)
	return errs
}

// TrialExpiryJob bills the first period of subscriptions whose trial has
// ended.
func (s *Scheduler) TrialExpiryJob(ctx context.Context) error {
	now := s.clock.Now()
	expired, err := s.subscriptionRepo.FindTrialExpired(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	processed := 0
	for _, subscription := range expired {
		if ctx.Err() != nil {
			errs = errors.Join(errs, ctx.Err())
			break
		}
		if _, err := s.subscriptionSvc.Renew(ctx, subscription.ID); err != nil {
			errs = errors.Join(errs, err)
			s.log.Warn("trial expiry billing failed",
				zap.String("job", "trial_expiry"),
				zap.Int64("subscription_id", int64(subscription.ID)),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	obsmetrics.Scheduler().AddBatchProcessed("trial_expiry", processed)
	return errs
}

// PauseExpiryJob resumes subscriptions whose pause window has elapsed.
// Resume is a no-op on already-active subscriptions, so racing a manual
// resume is harmless.
func (s *Scheduler) PauseExpiryJob(ctx context.Context) error {
	now := s.clock.Now()
	expired, err := s.subscriptionRepo.FindPauseExpired(ctx, s.db, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	processed := 0
	for _, subscription := range expired {
		if ctx.Err() != nil {
			errs = errors.Join(errs, ctx.Err())
			break
		}
		if _, err := s.subscriptionSvc.Resume(ctx, subscription.ID); err != nil {
			if errors.Is(err, subscriptiondomain.ErrInvalidStateTransition) {
				continue
			}
			errs = errors.Join(errs, err)
			s.log.Warn("pause expiry resume failed",
				zap.String("job", "pause_expiry"),
				zap.Int64("subscription_id", int64(subscription.ID)),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	obsmetrics.Scheduler().AddBatchProcessed("pause_expiry", processed)
	return errs
}

// ShipmentStatusJob polls the warehouse for orders that have an open
// shipment and marks them shipped once the warehouse reports so.
func (s *Scheduler) ShipmentStatusJob(ctx context.Context) error {
	since := s.clock.Now().Add(-s.cfg.ShipmentsWindow)
	orders, err := s.orderRepo.FindWithOpenShipments(ctx, s.db, since, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs error
	processed := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			errs = errors.Join(errs, ctx.Err())
			break
		}

		status, err := s.fulfillmentSvc.GetShipmentStatus(ctx, order.FulfillmentRef)
		if err != nil {
			if errors.Is(err, fulfillmentdomain.ErrShipmentNotFound) {
				continue
			}
			errs = errors.Join(errs, err)
			continue
		}

		switch status {
		case fulfillmentdomain.ShipmentStatusShipped, fulfillmentdomain.ShipmentStatusDelivered:
			if err := s.orderSvc.MarkShipped(ctx, order.ID); err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			processed++
		}
	}

	obsmetrics.Scheduler().AddBatchProcessed("shipment_status", processed)
	return errs
}
