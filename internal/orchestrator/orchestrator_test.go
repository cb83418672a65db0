package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallcraft/commerce-core/internal/clock"
	"github.com/smallcraft/commerce-core/internal/config"
	fulfillmentdomain "github.com/smallcraft/commerce-core/internal/fulfillment/domain"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	ledgerdomain "github.com/smallcraft/commerce-core/internal/ledger/domain"
	"github.com/smallcraft/commerce-core/internal/migration"
	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
	orderrepository "github.com/smallcraft/commerce-core/internal/order/repository"
	orderservice "github.com/smallcraft/commerce-core/internal/order/service"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
	subscriptionrepository "github.com/smallcraft/commerce-core/internal/subscription/repository"
	subscriptionservice "github.com/smallcraft/commerce-core/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Mock Gateway Service. Status mapping is the real table so webhook bodies
// drive the test the same way provider deliveries would.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateOrder(ctx context.Context, req gatewaydomain.CreateOrderRequest) (gatewaydomain.CreateOrderResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(gatewaydomain.CreateOrderResponse), args.Error(1)
}

func (m *mockGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	args := m.Called(payload, signature)
	return args.Bool(0)
}

func (m *mockGateway) MapProviderStatus(code int) gatewaydomain.PaymentState {
	switch code {
	case 2:
		return gatewaydomain.PaymentStateCompleted
	case 3:
		return gatewaydomain.PaymentStateCancelled
	case 4:
		return gatewaydomain.PaymentStateFailed
	case 5:
		return gatewaydomain.PaymentStateRefunded
	default:
		return gatewaydomain.PaymentStatePending
	}
}

func (m *mockGateway) CreateRecurringCharge(ctx context.Context, req gatewaydomain.RecurringChargeRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CancelRecurringCharge(ctx context.Context, providerOrderCode string) (bool, error) {
	args := m.Called(ctx, providerOrderCode)
	return args.Bool(0), args.Error(1)
}

// Mock Ledger Service
type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) EnsureCustomer(ctx context.Context, req ledgerdomain.EnsureCustomerRequest) (ledgerdomain.Customer, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ledgerdomain.Customer), args.Error(1)
}

func (m *mockLedger) EnsureArticle(ctx context.Context, req ledgerdomain.EnsureArticleRequest) (ledgerdomain.Article, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ledgerdomain.Article), args.Error(1)
}

func (m *mockLedger) CreateOrder(ctx context.Context, req ledgerdomain.CreateOrderRequest) (ledgerdomain.CreateOrderResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ledgerdomain.CreateOrderResponse), args.Error(1)
}

func (m *mockLedger) TestConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Mock Fulfillment Service
type mockFulfillment struct {
	mock.Mock
}

func (m *mockFulfillment) CreateShipment(ctx context.Context, req fulfillmentdomain.CreateShipmentRequest) (fulfillmentdomain.CreateShipmentResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(fulfillmentdomain.CreateShipmentResponse), args.Error(1)
}

func (m *mockFulfillment) GetShipmentStatus(ctx context.Context, shipmentID string) (fulfillmentdomain.ShipmentStatus, error) {
	args := m.Called(ctx, shipmentID)
	return args.Get(0).(fulfillmentdomain.ShipmentStatus), args.Error(1)
}

func (m *mockFulfillment) TestConnection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// countingNotifier records confirmation sends. Sends run on their own
// goroutine, so the counter is read through count() under the lock.
type countingNotifier struct {
	mu    sync.Mutex
	sends int
}

func (n *countingNotifier) SendOrderConfirmation(ctx context.Context, order orderdomain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends++
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends
}

type fixture struct {
	orch *Orchestrator
	db   *gorm.DB
	clk  *clock.FakeClock

	gateway     *mockGateway
	ledger      *mockLedger
	fulfillment *mockFulfillment
	notifier    *countingNotifier

	orderSvc        orderdomain.Service
	orderRepo       orderdomain.Repository
	subscriptionSvc subscriptiondomain.Service
	subRepo         subscriptiondomain.Repository
}

func newFixture(t *testing.T, webhookSecret string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	gateway := new(mockGateway)
	ledger := new(mockLedger)
	fulfillment := new(mockFulfillment)
	notifier := new(countingNotifier)

	orderRepo := orderrepository.Provide()
	orderSvc := orderservice.NewService(orderservice.ServiceParam{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       orderRepo,
		Gatewaysvc: gateway,
	})

	subRepo := subscriptionrepository.Provide()
	subscriptionSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       subRepo,
		Gatewaysvc: gateway,
	})

	orch := New(Param{
		Cfg: config.Config{
			Gateway: config.GatewayConfig{WebhookSecret: webhookSecret},
		},
		Log:             log,
		Gatewaysvc:      gateway,
		Ordersvc:        orderSvc,
		Subscriptionsvc: subscriptionSvc,
		Ledgersvc:       ledger,
		Fulfillmentsvc:  fulfillment,
		Notifier:        notifier,
	})

	return &fixture{
		orch:            orch,
		db:              db,
		clk:             clk,
		gateway:         gateway,
		ledger:          ledger,
		fulfillment:     fulfillment,
		notifier:        notifier,
		orderSvc:        orderSvc,
		orderRepo:       orderRepo,
		subscriptionSvc: subscriptionSvc,
		subRepo:         subRepo,
	}
}

func (f *fixture) createOrder(t *testing.T, providerCode string) orderdomain.Order {
	t.Helper()
	f.gateway.On("CreateOrder", mock.Anything, mock.Anything).
		Return(gatewaydomain.CreateOrderResponse{
			ProviderOrderCode: providerCode,
			CheckoutURL:       "https://pay.example/" + providerCode,
		}, nil).Once()

	resp, err := f.orderSvc.Create(context.Background(), orderdomain.CreateOrderRequest{
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		ShipStreet:    "Main St 1",
		ShipCity:      "Vienna",
		ShipCountry:   "AT",
		Currency:      "EUR",
		Shipping:      500,
		Items: []orderdomain.CreateOrderItemRequest{
			{SKU: "BEANS-1KG", Name: "House Blend", Quantity: 2, UnitPrice: 1500, VATRate: 20},
		},
	})
	require.NoError(t, err)
	return resp.Order
}

func webhookPayload(ref string, status int) []byte {
	return []byte(fmt.Sprintf(`{"order_reference":%q,"status":%d}`, ref, status))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, "s3cret")
	payload := webhookPayload("ord_abc", 2)

	f.gateway.On("VerifyWebhookSignature", payload, "deadbeef").Return(false).Once()

	_, err := f.orch.HandleWebhook(context.Background(), payload, "deadbeef")
	assert.ErrorIs(t, err, ErrUnauthorized)
	f.gateway.AssertExpectations(t)
}

func TestWebhookMalformedPayload(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.orch.HandleWebhook(context.Background(), []byte("not json"), "")
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = f.orch.HandleWebhook(context.Background(), []byte(`{"status":2}`), "")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestWebhookUnknownReference(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.orch.HandleWebhook(context.Background(), webhookPayload("ord_nobody", 2), "")
	assert.ErrorIs(t, err, ErrUnknownReference)
}

func TestWebhookCompletedOrderSyncsBothSystems(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	order := f.createOrder(t, "ord_abc")

	f.ledger.On("EnsureCustomer", mock.Anything, mock.Anything).
		Return(ledgerdomain.Customer{ID: "cust_1"}, nil).Once()
	f.ledger.On("EnsureArticle", mock.Anything, mock.Anything).
		Return(ledgerdomain.Article{ID: "art_1", SKU: "BEANS-1KG"}, nil).Once()
	f.ledger.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req ledgerdomain.CreateOrderRequest) bool {
		// Items plus the synthetic shipping line.
		return req.CustomerID == "cust_1" && len(req.Lines) == 2
	})).Return(ledgerdomain.CreateOrderResponse{OrderID: "L-100"}, nil).Once()

	f.fulfillment.On("CreateShipment", mock.Anything, mock.Anything).
		Return(fulfillmentdomain.CreateShipmentResponse{ShipmentID: "SHIP-7"}, nil).Once()

	outcome, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 2), "")
	require.NoError(t, err)

	assert.Equal(t, "order", outcome.Target)
	assert.Equal(t, gatewaydomain.PaymentStateCompleted, outcome.PaymentState)
	assert.True(t, outcome.LedgerSynced)
	assert.True(t, outcome.FulfillmentSynced)
	assert.Empty(t, outcome.Warnings)

	stored, err := f.orderRepo.FindByID(ctx, f.db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, gatewaydomain.PaymentStateCompleted, stored.PaymentState)
	assert.Equal(t, orderdomain.OrderStateProcessing, stored.OrderState)
	assert.Equal(t, "L-100", stored.LedgerRef)
	assert.Equal(t, "SHIP-7", stored.FulfillmentRef)

	f.ledger.AssertExpectations(t)
	f.fulfillment.AssertExpectations(t)
}

func TestWebhookPartialFailureIsContained(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	order := f.createOrder(t, "ord_abc")

	f.ledger.On("EnsureCustomer", mock.Anything, mock.Anything).
		Return(ledgerdomain.Customer{}, ledgerdomain.ErrLedgerUnavailable).Once()
	f.fulfillment.On("CreateShipment", mock.Anything, mock.Anything).
		Return(fulfillmentdomain.CreateShipmentResponse{ShipmentID: "SHIP-7"}, nil).Once()

	// One side failing never turns the delivery into an error: the payment
	// succeeded and the provider must not retry it.
	outcome, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 2), "")
	require.NoError(t, err)

	assert.False(t, outcome.LedgerSynced)
	assert.True(t, outcome.FulfillmentSynced)
	require.Len(t, outcome.Warnings, 1)
	assert.Contains(t, outcome.Warnings[0], "ledger sync failed")

	stored, err := f.orderRepo.FindByID(ctx, f.db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStateProcessing, stored.OrderState)
	assert.Empty(t, stored.LedgerRef)
	assert.Equal(t, "SHIP-7", stored.FulfillmentRef)
	require.Len(t, stored.SyncWarnings, 1)
	assert.Contains(t, stored.SyncWarnings[0], "ledger sync failed")
}

func TestWebhookRedeliverySkipsSyncedSides(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.createOrder(t, "ord_abc")

	f.ledger.On("EnsureCustomer", mock.Anything, mock.Anything).
		Return(ledgerdomain.Customer{ID: "cust_1"}, nil).Once()
	f.ledger.On("EnsureArticle", mock.Anything, mock.Anything).
		Return(ledgerdomain.Article{ID: "art_1"}, nil).Once()
	f.ledger.On("CreateOrder", mock.Anything, mock.Anything).
		Return(ledgerdomain.CreateOrderResponse{OrderID: "L-100"}, nil).Once()
	f.fulfillment.On("CreateShipment", mock.Anything, mock.Anything).
		Return(fulfillmentdomain.CreateShipmentResponse{ShipmentID: "SHIP-7"}, nil).Once()

	_, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 2), "")
	require.NoError(t, err)

	// Redelivery: both refs are recorded, neither adapter is called again.
	outcome, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 2), "")
	require.NoError(t, err)
	assert.True(t, outcome.LedgerSynced)
	assert.True(t, outcome.FulfillmentSynced)
	assert.Empty(t, outcome.Warnings)

	f.ledger.AssertNumberOfCalls(t, "CreateOrder", 1)
	f.fulfillment.AssertNumberOfCalls(t, "CreateShipment", 1)
}

func TestConfirmationSentOncePerPayment(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.createOrder(t, "ord_abc")

	f.ledger.On("EnsureCustomer", mock.Anything, mock.Anything).
		Return(ledgerdomain.Customer{ID: "cust_1"}, nil).Once()
	f.ledger.On("EnsureArticle", mock.Anything, mock.Anything).
		Return(ledgerdomain.Article{ID: "art_1"}, nil)
	f.ledger.On("CreateOrder", mock.Anything, mock.Anything).
		Return(ledgerdomain.CreateOrderResponse{OrderID: "L-100"}, nil).Once()
	f.fulfillment.On("CreateShipment", mock.Anything, mock.Anything).
		Return(fulfillmentdomain.CreateShipmentResponse{ShipmentID: "SHIP-7"}, nil).Once()

	_, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 2), "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return f.notifier.count() == 1 },
		time.Second, 10*time.Millisecond)

	// The redelivery re-checks the syncs but must not mail the customer again.
	_, err = f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 2), "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.notifier.count())
}

func TestWebhookRetriesOnlyFailedSide(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.createOrder(t, "ord_abc")

	f.ledger.On("EnsureCustomer", mock.Anything, mock.Anything).
		Return(ledgerdomain.Customer{}, ledgerdomain.ErrLedgerUnavailable).Once()
	f.fulfillment.On("CreateShipment", mock.Anything, mock.Anything).
		Return(fulfillmentdomain.CreateShipmentResponse{ShipmentID: "SHIP-7"}, nil).Once()

	_, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 2), "")
	require.NoError(t, err)

	// The ledger recovered; the redelivery completes it without touching the
	// already-synced fulfillment side.
	f.ledger.On("EnsureCustomer", mock.Anything, mock.Anything).
		Return(ledgerdomain.Customer{ID: "cust_1"}, nil).Once()
	f.ledger.On("EnsureArticle", mock.Anything, mock.Anything).
		Return(ledgerdomain.Article{ID: "art_1"}, nil).Once()
	f.ledger.On("CreateOrder", mock.Anything, mock.Anything).
		Return(ledgerdomain.CreateOrderResponse{OrderID: "L-100"}, nil).Once()

	outcome, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 2), "")
	require.NoError(t, err)
	assert.True(t, outcome.LedgerSynced)
	assert.True(t, outcome.FulfillmentSynced)

	f.fulfillment.AssertNumberOfCalls(t, "CreateShipment", 1)
}

func TestWebhookFailedPaymentStopsBeforeSync(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	order := f.createOrder(t, "ord_abc")

	outcome, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 4), "")
	require.NoError(t, err)
	assert.Equal(t, gatewaydomain.PaymentStateFailed, outcome.PaymentState)
	assert.False(t, outcome.LedgerSynced)
	assert.False(t, outcome.FulfillmentSynced)

	stored, err := f.orderRepo.FindByID(ctx, f.db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStateCancelled, stored.OrderState)

	f.ledger.AssertNotCalled(t, "EnsureCustomer", mock.Anything, mock.Anything)
	f.fulfillment.AssertNotCalled(t, "CreateShipment", mock.Anything, mock.Anything)
}

func TestWebhookUnknownStatusLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	order := f.createOrder(t, "ord_abc")

	outcome, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_abc", 99), "")
	require.NoError(t, err)
	assert.Equal(t, gatewaydomain.PaymentStatePending, outcome.PaymentState)

	stored, err := f.orderRepo.FindByID(ctx, f.db, order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.OrderStatePending, stored.OrderState)
	assert.Equal(t, gatewaydomain.PaymentStatePending, stored.PaymentState)
}

func TestWebhookReconcilesSubscriptionInvoice(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	plan, err := f.subscriptionSvc.CreatePlan(ctx, subscriptiondomain.CreatePlanRequest{
		Name:     "Coffee Monthly",
		Price:    2500,
		Currency: "EUR",
		Interval: subscriptiondomain.BillingIntervalMonthly,
	})
	require.NoError(t, err)

	f.gateway.On("CreateOrder", mock.Anything, mock.Anything).
		Return(gatewaydomain.CreateOrderResponse{
			ProviderOrderCode: "ord_sub",
			CheckoutURL:       "https://pay.example/ord_sub",
		}, nil).Once()

	resp, err := f.subscriptionSvc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		PlanID:        plan.ID.String(),
		CustomerEmail: "ada@example.com",
	})
	require.NoError(t, err)

	outcome, err := f.orch.HandleWebhook(ctx, webhookPayload("ord_sub", 2), "")
	require.NoError(t, err)
	assert.Equal(t, "invoice", outcome.Target)
	assert.Equal(t, resp.Invoice.ID.String(), outcome.InvoiceID)

	invoice, err := f.subRepo.FindInvoiceByID(ctx, f.db, resp.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.InvoiceStatusPaid, invoice.Status)

	// No order shares the reference, so the order path is never consulted.
	f.ledger.AssertNotCalled(t, "EnsureCustomer", mock.Anything, mock.Anything)
	f.fulfillment.AssertNotCalled(t, "CreateShipment", mock.Anything, mock.Anything)
}
