// Package orchestrator coordinates payment webhooks: it verifies the
// delivery, applies the payment outcome to the matching invoice or order,
// and on completed payments mirrors the order into the accounting and
// warehouse systems.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smallcraft/commerce-core/internal/config"
	fulfillmentdomain "github.com/smallcraft/commerce-core/internal/fulfillment/domain"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	ledgerdomain "github.com/smallcraft/commerce-core/internal/ledger/domain"
	"github.com/smallcraft/commerce-core/internal/notification"
	"github.com/smallcraft/commerce-core/internal/observability/metrics"
	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// syncTimeout bounds one adapter's whole sync sequence, which may span
// several remote calls.
const syncTimeout = 60 * time.Second

// notifyTimeout bounds the fire-and-forget confirmation send.
const notifyTimeout = 15 * time.Second

var (
	ErrUnauthorized     = errors.New("webhook_unauthorized")
	ErrMalformedPayload = errors.New("webhook_malformed_payload")
	ErrUnknownReference = errors.New("webhook_unknown_reference")
)

// webhookBody is the provider's delivery: an order reference plus a numeric
// status code.
type webhookBody struct {
	OrderRef   string `json:"order_reference"`
	StatusCode int    `json:"status"`
	EventID    string `json:"event_id,omitempty"`
}

// Outcome reports what a webhook delivery did, for logging and the HTTP
// response body.
type Outcome struct {
	Target       string                     `json:"target"`
	PaymentState gatewaydomain.PaymentState `json:"payment_state"`

	OrderID    string `json:"order_id,omitempty"`
	InvoiceID  string `json:"invoice_id,omitempty"`
	OrderState string `json:"order_state,omitempty"`

	LedgerSynced      bool     `json:"ledger_synced,omitempty"`
	FulfillmentSynced bool     `json:"fulfillment_synced,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

type Orchestrator struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	verifySignature bool

	gatewaysvc      gatewaydomain.Service
	ordersvc        orderdomain.Service
	subscriptionsvc subscriptiondomain.Service
	ledgersvc       ledgerdomain.Service
	fulfillmentsvc  fulfillmentdomain.Service
	notifier        notification.Provider
}

type Param struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics

	Gatewaysvc      gatewaydomain.Service
	Ordersvc        orderdomain.Service
	Subscriptionsvc subscriptiondomain.Service
	Ledgersvc       ledgerdomain.Service
	Fulfillmentsvc  fulfillmentdomain.Service
	Notifier        notification.Provider
}

func New(p Param) *Orchestrator {
	return &Orchestrator{
		log:     p.Log.Named("orchestrator"),
		metrics: p.Metrics,

		verifySignature: p.Cfg.Gateway.WebhookSecret != "",

		gatewaysvc:      p.Gatewaysvc,
		ordersvc:        p.Ordersvc,
		subscriptionsvc: p.Subscriptionsvc,
		ledgersvc:       p.Ledgersvc,
		fulfillmentsvc:  p.Fulfillmentsvc,
		notifier:        p.Notifier,
	}
}

// HandleWebhook processes one provider delivery end to end. It is safe to
// call twice with the same payload: state transitions re-apply as no-ops
// and downstream sync is only attempted for adapters without a recorded
// reference.
func (o *Orchestrator) HandleWebhook(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	if o.verifySignature && !o.gatewaysvc.VerifyWebhookSignature(payload, signature) {
		o.metrics.RecordWebhookEvent(ctx, "rejected", "unauthorized")
		return Outcome{}, ErrUnauthorized
	}

	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		o.metrics.RecordWebhookEvent(ctx, "rejected", "malformed")
		return Outcome{}, ErrMalformedPayload
	}
	if strings.TrimSpace(body.OrderRef) == "" {
		o.metrics.RecordWebhookEvent(ctx, "rejected", "malformed")
		return Outcome{}, ErrMalformedPayload
	}

	state := o.gatewaysvc.MapProviderStatus(body.StatusCode)

	// A subscription invoice claims the reference before a one-off order.
	// The two never share a provider code by construction, this ordering
	// just fixes the lookup.
	invoice, err := o.subscriptionsvc.GetInvoiceByProviderRef(ctx, body.OrderRef)
	switch {
	case err == nil:
		return o.reconcileInvoice(ctx, invoice, state)
	case errors.Is(err, subscriptiondomain.ErrInvoiceNotFound):
	default:
		return Outcome{}, err
	}

	order, err := o.ordersvc.GetByProviderRef(ctx, body.OrderRef)
	if err != nil {
		if errors.Is(err, orderdomain.ErrNotFound) {
			// Terminal: the provider will never resend a different
			// reference for this delivery.
			o.metrics.RecordWebhookEvent(ctx, "rejected", "unknown_reference")
			return Outcome{}, ErrUnknownReference
		}
		return Outcome{}, err
	}

	return o.handleOrder(ctx, order, state)
}

func (o *Orchestrator) reconcileInvoice(ctx context.Context, invoice subscriptiondomain.Invoice, state gatewaydomain.PaymentState) (Outcome, error) {
	if err := o.subscriptionsvc.ReconcilePayment(ctx, invoice.ID, state); err != nil {
		return Outcome{}, err
	}

	o.metrics.RecordWebhookEvent(ctx, "invoice", string(state))
	o.log.Info("invoice webhook reconciled",
		zap.Int64("invoice_id", int64(invoice.ID)),
		zap.String("payment_state", string(state)),
	)
	return Outcome{
		Target:       "invoice",
		PaymentState: state,
		InvoiceID:    invoice.ID.String(),
	}, nil
}

func (o *Orchestrator) handleOrder(ctx context.Context, order orderdomain.Order, state gatewaydomain.PaymentState) (Outcome, error) {
	alreadyCompleted := order.PaymentState == gatewaydomain.PaymentStateCompleted

	updated, err := o.ordersvc.ApplyPaymentOutcome(ctx, order.ID, state)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{
		Target:       "order",
		PaymentState: state,
		OrderID:      updated.ID.String(),
		OrderState:   string(updated.OrderState),
	}

	if state != gatewaydomain.PaymentStateCompleted {
		o.metrics.RecordWebhookEvent(ctx, "order", string(state))
		o.log.Info("order webhook applied",
			zap.Int64("order_id", int64(updated.ID)),
			zap.String("payment_state", string(state)),
		)
		return outcome, nil
	}

	// Payment completed: mirror the order into both external systems.
	// The two syncs are independent systems of record with no distributed
	// transaction, so they run concurrently and neither failure blocks,
	// rolls back, or short-circuits the other.
	var (
		wg             sync.WaitGroup
		ledgerRef      string
		ledgerErr      error
		fulfillmentRef string
		fulfillmentErr error
	)

	if updated.LedgerRef == "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
			defer cancel()
			ledgerRef, ledgerErr = o.syncLedger(syncCtx, updated)
		}()
	} else {
		outcome.LedgerSynced = true
	}

	if updated.FulfillmentRef == "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
			defer cancel()
			fulfillmentRef, fulfillmentErr = o.syncFulfillment(syncCtx, updated)
		}()
	} else {
		outcome.FulfillmentSynced = true
	}

	wg.Wait()

	if ledgerRef != "" {
		if err := o.ordersvc.AttachLedgerRef(ctx, updated.ID, ledgerRef); err != nil {
			ledgerErr = err
		} else {
			outcome.LedgerSynced = true
		}
	}
	if fulfillmentRef != "" {
		if err := o.ordersvc.AttachFulfillmentRef(ctx, updated.ID, fulfillmentRef); err != nil {
			fulfillmentErr = err
		} else {
			outcome.FulfillmentSynced = true
		}
	}

	// Partial failures become warnings on the order, never errors: the
	// payment itself succeeded and the provider must not retry it.
	if ledgerErr != nil {
		warning := fmt.Sprintf("ledger sync failed: %v", ledgerErr)
		outcome.Warnings = append(outcome.Warnings, warning)
		if err := o.ordersvc.AppendWarning(ctx, updated.ID, warning); err != nil {
			o.log.Error("recording ledger warning failed",
				zap.Int64("order_id", int64(updated.ID)),
				zap.Error(err),
			)
		}
	}
	if fulfillmentErr != nil {
		warning := fmt.Sprintf("fulfillment sync failed: %v", fulfillmentErr)
		outcome.Warnings = append(outcome.Warnings, warning)
		if err := o.ordersvc.AppendWarning(ctx, updated.ID, warning); err != nil {
			o.log.Error("recording fulfillment warning failed",
				zap.Int64("order_id", int64(updated.ID)),
				zap.Error(err),
			)
		}
	}

	o.metrics.RecordWebhookEvent(ctx, "order", string(state))
	o.log.Info("order webhook completed",
		zap.Int64("order_id", int64(updated.ID)),
		zap.Bool("ledger_synced", outcome.LedgerSynced),
		zap.Bool("fulfillment_synced", outcome.FulfillmentSynced),
		zap.Int("warnings", len(outcome.Warnings)),
	)

	// The customer is told exactly once, on the delivery that actually
	// completed the payment. Redeliveries still re-run the syncs above.
	if !alreadyCompleted {
		o.sendConfirmation(updated)
	}
	return outcome, nil
}

// syncLedger mirrors customer, articles and the order document into the
// accounting system. Every step is find-or-create, so a webhook redelivery
// re-running the whole sequence creates nothing twice.
func (o *Orchestrator) syncLedger(ctx context.Context, order orderdomain.Order) (string, error) {
	customer, err := o.ledgersvc.EnsureCustomer(ctx, ledgerdomain.EnsureCustomerRequest{
		Name:  order.CustomerName,
		Email: order.CustomerEmail,
	})
	if err != nil {
		return "", err
	}

	lines := make([]ledgerdomain.OrderLine, 0, len(order.Items)+1)
	for _, item := range order.Items {
		article, err := o.ledgersvc.EnsureArticle(ctx, ledgerdomain.EnsureArticleRequest{
			SKU:     item.SKU,
			Name:    item.Name,
			VATRate: item.VATRate,
		})
		if err != nil {
			return "", err
		}
		lines = append(lines, ledgerdomain.OrderLine{
			ArticleID:   article.ID,
			SKU:         item.SKU,
			Description: item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			VATRate:     item.VATRate,
		})
	}
	if order.Shipping > 0 {
		// Synthetic line: the remote catalog has no shipping SKU.
		lines = append(lines, ledgerdomain.OrderLine{
			Description: "Shipping",
			Quantity:    1,
			UnitPrice:   order.Shipping,
		})
	}

	created, err := o.ledgersvc.CreateOrder(ctx, ledgerdomain.CreateOrderRequest{
		CustomerID:  customer.ID,
		ExternalRef: order.OrderNumber,
		Currency:    order.Currency,
		Lines:       lines,
		IssuedAt:    order.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	return created.OrderID, nil
}

func (o *Orchestrator) syncFulfillment(ctx context.Context, order orderdomain.Order) (string, error) {
	lines := make([]fulfillmentdomain.ShipmentLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, fulfillmentdomain.ShipmentLine{
			SKU:      item.SKU,
			Name:     item.Name,
			Quantity: item.Quantity,
		})
	}

	created, err := o.fulfillmentsvc.CreateShipment(ctx, fulfillmentdomain.CreateShipmentRequest{
		ExternalRef: order.OrderNumber,
		Address: fulfillmentdomain.Address{
			Name:       order.CustomerName,
			Street:     order.ShipStreet,
			City:       order.ShipCity,
			PostalCode: order.ShipPostalCode,
			Country:    order.ShipCountry,
			Phone:      order.CustomerPhone,
			Email:      order.CustomerEmail,
		},
		Lines:    lines,
		Currency: order.Currency,
	})
	if err != nil {
		return "", err
	}
	return created.ShipmentID, nil
}

// sendConfirmation runs detached from the webhook request: the provider's
// 200 must never wait on, or fail because of, an SMTP server.
func (o *Orchestrator) sendConfirmation(order orderdomain.Order) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := o.notifier.SendOrderConfirmation(ctx, order); err != nil {
			o.log.Warn("order confirmation send failed",
				zap.Int64("order_id", int64(order.ID)),
				zap.Error(err),
			)
		}
	}()
}
