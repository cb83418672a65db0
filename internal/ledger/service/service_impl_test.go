package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallcraft/commerce-core/internal/config"
	ledgerdomain "github.com/smallcraft/commerce-core/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(baseURL string, skipArticle bool) ledgerdomain.Service {
	return NewService(ServiceParam{
		Cfg: config.Config{
			Ledger: config.LedgerConfig{
				BaseURL:             baseURL,
				APIKey:              "token",
				SkipArticleCreation: skipArticle,
				Timeout:             5 * time.Second,
			},
		},
		Log: zap.NewNop(),
	})
}

func TestEnsureCustomerFindsExisting(t *testing.T) {
	var created int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/customers":
			assert.Equal(t, "ada@example.com", r.URL.Query().Get("email"))
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{"id": "cust_1", "name": "Ada", "email": "ada@example.com"}},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/api/customers":
			created++
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := newService(srv.URL, false)
	customer, err := svc.EnsureCustomer(context.Background(), ledgerdomain.EnsureCustomerRequest{
		Name:  "Ada",
		Email: " Ada@Example.com ",
	})
	require.NoError(t, err)
	assert.Equal(t, "cust_1", customer.ID)
	assert.Zero(t, created)
}

func TestEnsureCustomerCreatesMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/customers":
			json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/customers":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "ada@example.com", body["email"])
			json.NewEncoder(w).Encode(map[string]any{"id": "cust_new", "name": body["name"], "email": body["email"]})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := newService(srv.URL, false)
	customer, err := svc.EnsureCustomer(context.Background(), ledgerdomain.EnsureCustomerRequest{
		Name:  "Ada",
		Email: "ada@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "cust_new", customer.ID)
}

func TestEnsureArticleSkipCreationUsesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		// Every SKU resolves to the fallback article.
		assert.Equal(t, "GENERIC", r.URL.Query().Get("sku"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": "art_generic", "sku": "GENERIC"}},
		})
	}))
	defer srv.Close()

	svc := newService(srv.URL, true)
	article, err := svc.EnsureArticle(context.Background(), ledgerdomain.EnsureArticleRequest{
		SKU:  "BEANS-1KG",
		Name: "House Blend",
	})
	require.NoError(t, err)
	assert.Equal(t, "art_generic", article.ID)
}

func TestEnsureArticleMissingFallbackFailsLoud(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
	}))
	defer srv.Close()

	svc := newService(srv.URL, true)
	_, err := svc.EnsureArticle(context.Background(), ledgerdomain.EnsureArticleRequest{SKU: "BEANS-1KG"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidRequest)
}

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/orders", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cust_1", body["customer_id"])
		assert.Equal(t, "ORD-1", body["external_reference"])
		assert.Equal(t, "2026-01-15", body["issued_at"])
		json.NewEncoder(w).Encode(map[string]any{"id": "L-100", "order_number": "2026-0042"})
	}))
	defer srv.Close()

	svc := newService(srv.URL, false)
	resp, err := svc.CreateOrder(context.Background(), ledgerdomain.CreateOrderRequest{
		CustomerID:  "cust_1",
		ExternalRef: "ORD-1",
		Currency:    "EUR",
		IssuedAt:    time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		Lines: []ledgerdomain.OrderLine{
			{ArticleID: "art_1", Description: "House Blend", Quantity: 2, UnitPrice: 1500, VATRate: 20},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "L-100", resp.OrderID)
	assert.Equal(t, "2026-0042", resp.OrderNumber)
}

func TestErrorMapping(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		svc := NewService(ServiceParam{
			Cfg: config.Config{Ledger: config.LedgerConfig{BaseURL: "http://127.0.0.1:1"}},
			Log: zap.NewNop(),
		})
		_, err := svc.EnsureCustomer(context.Background(), ledgerdomain.EnsureCustomerRequest{Email: "a@b.c"})
		assert.ErrorIs(t, err, ledgerdomain.ErrMissingCredentials)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		svc := newService(srv.URL, false)
		_, err := svc.EnsureCustomer(context.Background(), ledgerdomain.EnsureCustomerRequest{Email: "a@b.c"})
		assert.ErrorIs(t, err, ledgerdomain.ErrLedgerUnavailable)
	})

	t.Run("unreachable host", func(t *testing.T) {
		svc := newService("http://127.0.0.1:1", false)
		err := svc.TestConnection(context.Background())
		assert.ErrorIs(t, err, ledgerdomain.ErrLedgerUnavailable)
	})
}

func TestCallsArePaced(t *testing.T) {
	var calls []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, time.Now())
		json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
	}))
	defer srv.Close()

	svc := NewService(ServiceParam{
		Cfg: config.Config{
			Ledger: config.LedgerConfig{
				BaseURL:   srv.URL,
				APIKey:    "token",
				CallDelay: 50 * time.Millisecond,
				Timeout:   5 * time.Second,
			},
		},
		Log: zap.NewNop(),
	})

	require.NoError(t, svc.TestConnection(context.Background()))
	require.NoError(t, svc.TestConnection(context.Background()))
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 45*time.Millisecond)
}
