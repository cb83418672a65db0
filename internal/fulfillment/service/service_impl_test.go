package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallcraft/commerce-core/internal/clock"
	"github.com/smallcraft/commerce-core/internal/config"
	fulfillmentdomain "github.com/smallcraft/commerce-core/internal/fulfillment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newService(baseURL string, clk clock.Clock) fulfillmentdomain.Service {
	return NewService(ServiceParam{
		Cfg: config.Config{
			Fulfillment: config.FulfillmentConfig{
				BaseURL:   baseURL,
				APIKey:    "key",
				APISecret: "secret",
				Timeout:   5 * time.Second,
			},
		},
		Log:   zap.NewNop(),
		Clock: clk,
	})
}

// warehouse is a minimal fake remote: it issues tokens and serves shipments,
// counting auth calls so token reuse is observable.
type warehouse struct {
	authCalls    int
	tokenCounter int
	status       string
	rejectToken  string
}

func (wh *warehouse) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/auth/token":
			wh.authCalls++
			wh.tokenCounter++
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["key"] != "key" || body["secret"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"token":      "tok_" + string(rune('0'+wh.tokenCounter)),
				"expires_in": 3600,
			})
		case r.Header.Get("Authorization") == "Bearer "+wh.rejectToken:
			w.WriteHeader(http.StatusUnauthorized)
		case r.Method == http.MethodPost && r.URL.Path == "/api/shipments":
			json.NewEncoder(w).Encode(map[string]any{
				"id":                 "SHIP-7",
				"tracking_reference": "TRK-7",
			})
		case r.Method == http.MethodGet && len(r.URL.Path) > len("/api/shipments/"):
			json.NewEncoder(w).Encode(map[string]any{
				"id":     "SHIP-7",
				"status": wh.status,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestCreateShipment(t *testing.T) {
	wh := &warehouse{}
	srv := httptest.NewServer(wh.handler(t))
	defer srv.Close()

	clk := clock.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	svc := newService(srv.URL, clk)

	resp, err := svc.CreateShipment(context.Background(), fulfillmentdomain.CreateShipmentRequest{
		ExternalRef: "ORD-1",
		Address:     fulfillmentdomain.Address{Name: "Ada", Street: "Main St 1", City: "Vienna", Country: "AT"},
		Lines: []fulfillmentdomain.ShipmentLine{
			{SKU: "BEANS-1KG", Name: "House Blend", Quantity: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "SHIP-7", resp.ShipmentID)
	assert.Equal(t, "TRK-7", resp.TrackingRef)
}

func TestCreateShipmentValidation(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	svc := newService("http://127.0.0.1:1", clk)

	_, err := svc.CreateShipment(context.Background(), fulfillmentdomain.CreateShipmentRequest{
		ExternalRef: "ORD-1",
	})
	assert.ErrorIs(t, err, fulfillmentdomain.ErrInvalidRequest)

	_, err = svc.CreateShipment(context.Background(), fulfillmentdomain.CreateShipmentRequest{
		ExternalRef: "ORD-1",
		Lines:       []fulfillmentdomain.ShipmentLine{{SKU: "X", Quantity: 0}},
	})
	assert.ErrorIs(t, err, fulfillmentdomain.ErrInvalidRequest)
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	wh := &warehouse{status: "RECEIVED"}
	srv := httptest.NewServer(wh.handler(t))
	defer srv.Close()

	clk := clock.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	svc := newService(srv.URL, clk)
	ctx := context.Background()

	_, err := svc.GetShipmentStatus(ctx, "SHIP-7")
	require.NoError(t, err)
	_, err = svc.GetShipmentStatus(ctx, "SHIP-7")
	require.NoError(t, err)
	assert.Equal(t, 1, wh.authCalls)

	// Within the refresh margin of the 1h expiry the token counts as stale.
	clk.Advance(time.Hour - 10*time.Second)
	_, err = svc.GetShipmentStatus(ctx, "SHIP-7")
	require.NoError(t, err)
	assert.Equal(t, 2, wh.authCalls)
}

func TestRevokedTokenRetriesOnce(t *testing.T) {
	wh := &warehouse{status: "SHIPPED"}
	srv := httptest.NewServer(wh.handler(t))
	defer srv.Close()

	clk := clock.NewFakeClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	svc := newService(srv.URL, clk)
	ctx := context.Background()

	// First token gets revoked server side after it is cached.
	_, err := svc.GetShipmentStatus(ctx, "SHIP-7")
	require.NoError(t, err)
	wh.rejectToken = "tok_1"

	status, err := svc.GetShipmentStatus(ctx, "SHIP-7")
	require.NoError(t, err)
	assert.Equal(t, fulfillmentdomain.ShipmentStatusShipped, status)
	assert.Equal(t, 2, wh.authCalls)
}

func TestGetShipmentStatusMapping(t *testing.T) {
	tests := []struct {
		remote string
		want   fulfillmentdomain.ShipmentStatus
	}{
		{"RECEIVED", fulfillmentdomain.ShipmentStatusReceived},
		{"NEW", fulfillmentdomain.ShipmentStatusReceived},
		{"picking", fulfillmentdomain.ShipmentStatusPicking},
		{"PACKING", fulfillmentdomain.ShipmentStatusPicking},
		{"SHIPPED", fulfillmentdomain.ShipmentStatusShipped},
		{"IN_TRANSIT", fulfillmentdomain.ShipmentStatusShipped},
		{"DELIVERED", fulfillmentdomain.ShipmentStatusDelivered},
		{"RETURNED", fulfillmentdomain.ShipmentStatusReturned},
		{"SOMETHING_ELSE", fulfillmentdomain.ShipmentStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			wh := &warehouse{status: tt.remote}
			srv := httptest.NewServer(wh.handler(t))
			defer srv.Close()

			clk := clock.NewFakeClock(time.Now())
			svc := newService(srv.URL, clk)

			status, err := svc.GetShipmentStatus(context.Background(), "SHIP-7")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestShipmentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/token" {
			json.NewEncoder(w).Encode(map[string]any{"token": "tok", "expires_in": 3600})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	clk := clock.NewFakeClock(time.Now())
	svc := newService(srv.URL, clk)

	_, err := svc.GetShipmentStatus(context.Background(), "SHIP-MISSING")
	assert.ErrorIs(t, err, fulfillmentdomain.ErrShipmentNotFound)
}

func TestConnectionRequiresCredentials(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	svc := NewService(ServiceParam{
		Cfg: config.Config{
			Fulfillment: config.FulfillmentConfig{BaseURL: "http://127.0.0.1:1"},
		},
		Log:   zap.NewNop(),
		Clock: clk,
	})

	err := svc.TestConnection(context.Background())
	assert.ErrorIs(t, err, fulfillmentdomain.ErrMissingCredentials)
}
