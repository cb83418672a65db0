// Package scheduler drives the time-based billing and fulfillment
// transitions: renewals, trial expiry, pause expiry and shipment polling.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallcraft/commerce-core/internal/clock"
	"github.com/smallcraft/commerce-core/internal/config"
	fulfillmentdomain "github.com/smallcraft/commerce-core/internal/fulfillment/domain"
	obsmetrics "github.com/smallcraft/commerce-core/internal/observability/metrics"
	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.SchedulerConfig

	SubscriptionSvc  subscriptiondomain.Service
	SubscriptionRepo subscriptiondomain.Repository
	OrderSvc         orderdomain.Service
	OrderRepo        orderdomain.Repository
	FulfillmentSvc   fulfillmentdomain.Service
}

type Scheduler struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   config.SchedulerConfig
	clock clock.Clock

	subscriptionSvc  subscriptiondomain.Service
	subscriptionRepo subscriptiondomain.Repository
	orderSvc         orderdomain.Service
	orderRepo        orderdomain.Repository
	fulfillmentSvc   fulfillmentdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.SubscriptionSvc == nil || p.SubscriptionRepo == nil || p.OrderSvc == nil || p.OrderRepo == nil || p.FulfillmentSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:    p.DB,
		log:   p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:   p.Cfg,
		clock: p.Clock,

		subscriptionSvc:  p.SubscriptionSvc,
		subscriptionRepo: p.SubscriptionRepo,
		orderSvc:         p.OrderSvc,
		orderRepo:        p.OrderRepo,
		fulfillmentSvc:   p.FulfillmentSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Soft timeout: the next tick picks up where this one stopped.
		schedMetrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"renewals", s.isJobEnabled("renewals"), func(ctx context.Context) error {
			return s.runJob(ctx, "renewals", s.cfg.JobTimeout, s.RenewalsJob)
		}},
		{"trial_expiry", s.isJobEnabled("trial_expiry"), func(ctx context.Context) error {
			return s.runJob(ctx, "trial_expiry", s.cfg.JobTimeout, s.TrialExpiryJob)
		}},
		{"pause_expiry", s.isJobEnabled("pause_expiry"), func(ctx context.Context) error {
			return s.runJob(ctx, "pause_expiry", s.cfg.JobTimeout, s.PauseExpiryJob)
		}},
		{"shipment_status", s.cfg.PollShipments && s.isJobEnabled("shipment_status"), func(ctx context.Context) error {
			return s.runJob(ctx, "shipment_status", s.cfg.JobTimeout, s.ShipmentStatusJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty EnabledJobs list enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
