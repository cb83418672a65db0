package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallcraft/commerce-core/internal/config"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(baseURL, apiKey, secret string) gatewaydomain.Service {
	return NewService(ServiceParam{
		Cfg: config.Config{
			Gateway: config.GatewayConfig{
				BaseURL:       baseURL,
				APIKey:        apiKey,
				WebhookSecret: secret,
				Timeout:       5 * time.Second,
			},
		},
		Log: zap.NewNop(),
	})
}

func TestMapProviderStatus(t *testing.T) {
	svc := newService("", "key", "")

	tests := []struct {
		code int
		want gatewaydomain.PaymentState
	}{
		{2, gatewaydomain.PaymentStateCompleted},
		{3, gatewaydomain.PaymentStateCancelled},
		{4, gatewaydomain.PaymentStateFailed},
		{5, gatewaydomain.PaymentStateRefunded},
		{1, gatewaydomain.PaymentStatePending},
		{0, gatewaydomain.PaymentStatePending},
		// An unknown code must never mark anything paid.
		{99, gatewaydomain.PaymentStatePending},
		{-1, gatewaydomain.PaymentStatePending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, svc.MapProviderStatus(tt.code), "code %d", tt.code)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	svc := newService("", "key", "s3cret")
	payload := []byte(`{"order_reference":"ord_abc","status":2}`)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, svc.VerifyWebhookSignature(payload, signature))
	assert.True(t, svc.VerifyWebhookSignature(payload, "  "+signature+" "))

	assert.False(t, svc.VerifyWebhookSignature(payload, "deadbeef"))
	assert.False(t, svc.VerifyWebhookSignature([]byte("tampered"), signature))
	assert.False(t, svc.VerifyWebhookSignature(payload, ""))

	// No configured secret means nothing can verify.
	bare := newService("", "key", "")
	assert.False(t, bare.VerifyWebhookSignature(payload, signature))
}

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"order_code":"ord_abc","checkout_url":"https://pay.example/ord_abc"}`))
	}))
	defer srv.Close()

	svc := newService(srv.URL, "key", "")
	resp, err := svc.CreateOrder(context.Background(), gatewaydomain.CreateOrderRequest{
		Amount:      3000,
		Currency:    "eur",
		Customer:    gatewaydomain.CustomerInfo{Name: "Ada", Email: "ada@example.com"},
		MerchantRef: "ORD-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord_abc", resp.ProviderOrderCode)
	assert.Equal(t, "https://pay.example/ord_abc", resp.CheckoutURL)
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newService("http://localhost:1", "", "")
	_, err := svc.CreateOrder(context.Background(), gatewaydomain.CreateOrderRequest{Amount: 100, Currency: "EUR"})
	assert.ErrorIs(t, err, gatewaydomain.ErrMissingCredentials)

	svc = newService("http://localhost:1", "key", "")
	_, err = svc.CreateOrder(context.Background(), gatewaydomain.CreateOrderRequest{Amount: 0, Currency: "EUR"})
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidRequest)
}

func TestCreateOrderErrorMapping(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		svc := newService(srv.URL, "key", "")
		_, err := svc.CreateOrder(context.Background(), gatewaydomain.CreateOrderRequest{Amount: 100, Currency: "EUR"})
		assert.ErrorIs(t, err, gatewaydomain.ErrGatewayUnavailable)
	})

	t.Run("client error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		svc := newService(srv.URL, "key", "")
		_, err := svc.CreateOrder(context.Background(), gatewaydomain.CreateOrderRequest{Amount: 100, Currency: "EUR"})
		assert.ErrorIs(t, err, gatewaydomain.ErrInvalidRequest)
	})

	t.Run("unreachable host", func(t *testing.T) {
		svc := newService("http://127.0.0.1:1", "key", "")
		_, err := svc.CreateOrder(context.Background(), gatewaydomain.CreateOrderRequest{Amount: 100, Currency: "EUR"})
		assert.ErrorIs(t, err, gatewaydomain.ErrGatewayUnavailable)
	})

	t.Run("incomplete payload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"order_code":"ord_abc"}`))
		}))
		defer srv.Close()

		svc := newService(srv.URL, "key", "")
		_, err := svc.CreateOrder(context.Background(), gatewaydomain.CreateOrderRequest{Amount: 100, Currency: "EUR"})
		assert.ErrorIs(t, err, gatewaydomain.ErrInvalidPayload)
	})
}

func TestCreateRecurringCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/recurring/charges", r.URL.Path)
		w.Write([]byte(`{"transaction_id":"txn_9"}`))
	}))
	defer srv.Close()

	svc := newService(srv.URL, "key", "")
	ref, err := svc.CreateRecurringCharge(context.Background(), gatewaydomain.RecurringChargeRequest{
		OriginalOrderRef: "ord_abc",
		Amount:           2500,
		Currency:         "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, "txn_9", ref)

	_, err = svc.CreateRecurringCharge(context.Background(), gatewaydomain.RecurringChargeRequest{Amount: 2500})
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidRequest)
}

func TestCancelRecurringCharge(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "/v2/recurring/ord_abc", r.URL.Path)
			w.Write([]byte(`{"cancelled":true}`))
		}))
		defer srv.Close()

		svc := newService(srv.URL, "key", "")
		cancelled, err := svc.CancelRecurringCharge(context.Background(), "ord_abc")
		require.NoError(t, err)
		assert.True(t, cancelled)
	})

	t.Run("already cancelled is not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))
		defer srv.Close()

		svc := newService(srv.URL, "key", "")
		cancelled, err := svc.CancelRecurringCharge(context.Background(), "ord_abc")
		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}
