// Package metrics wires the OTLP meter provider and domain instruments.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	webhookEvents  metric.Int64Counter
	syncAttempts   metric.Int64Counter
	renewals       metric.Int64Counter
	gatewayCalls   metric.Int64Counter
	addOnPurchases metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "commerce-core"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("commerce_webhook_events_total")
	if err != nil {
		return nil, err
	}
	syncAttempts, err := meter.Int64Counter("commerce_sync_attempts_total")
	if err != nil {
		return nil, err
	}
	renewals, err := meter.Int64Counter("commerce_subscription_renewals_total")
	if err != nil {
		return nil, err
	}
	gatewayCalls, err := meter.Int64Counter("commerce_gateway_calls_total")
	if err != nil {
		return nil, err
	}
	addOnPurchases, err := meter.Int64Counter("commerce_addon_purchases_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:  webhookEvents,
		syncAttempts:   syncAttempts,
		renewals:       renewals,
		gatewayCalls:   gatewayCalls,
		addOnPurchases: addOnPurchases,
	}, nil
}

// RecordWebhookEvent increments webhook event counts by mapped payment state.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, target, state string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", strings.TrimSpace(target)),
		attribute.String("state", strings.TrimSpace(state)),
	))
}

// RecordSyncAttempt increments ledger/fulfillment sync outcomes.
func (m *Metrics) RecordSyncAttempt(ctx context.Context, system, outcome string) {
	if m == nil {
		return
	}
	m.syncAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("system", strings.TrimSpace(system)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordRenewal increments subscription renewal outcomes.
func (m *Metrics) RecordRenewal(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.renewals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordGatewayCall increments outbound payment gateway calls.
func (m *Metrics) RecordGatewayCall(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	m.gatewayCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordAddOnPurchase increments discounted add-on checkout counts.
func (m *Metrics) RecordAddOnPurchase(ctx context.Context) {
	if m == nil {
		return
	}
	m.addOnPurchases.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
