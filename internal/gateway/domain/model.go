// Package domain defines the payment gateway contract and canonical states.
package domain

import (
	"context"
	"errors"
)

// PaymentState is the canonical payment status mapped from provider codes.
type PaymentState string

const (
	PaymentStatePending   PaymentState = "PENDING"
	PaymentStateCompleted PaymentState = "COMPLETED"
	PaymentStateCancelled PaymentState = "CANCELLED"
	PaymentStateFailed    PaymentState = "FAILED"
	PaymentStateRefunded  PaymentState = "REFUNDED"
)

// CustomerInfo is the minimal customer payload sent to the provider.
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateOrderRequest creates a checkout order with the provider.
// Amount is in minor currency units.
type CreateOrderRequest struct {
	Amount      int64
	Currency    string
	Customer    CustomerInfo
	MerchantRef string
	Description string
	Recurring   bool
}

// CreateOrderResponse carries the provider order code and hosted checkout URL.
type CreateOrderResponse struct {
	ProviderOrderCode string
	CheckoutURL       string
}

// RecurringChargeRequest charges a saved payment method referencing the
// original vaulting order.
type RecurringChargeRequest struct {
	OriginalOrderRef string
	Amount           int64
	Currency         string
	Description      string
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	// VerifyWebhookSignature is pure: HMAC-SHA256 over the raw payload with
	// the integration secret, compared in constant time.
	VerifyWebhookSignature(payload []byte, signature string) bool
	// MapProviderStatus translates a provider status code. Unknown codes map
	// to PENDING so an interpretation gap can never mark an order paid.
	MapProviderStatus(code int) PaymentState
	CreateRecurringCharge(ctx context.Context, req RecurringChargeRequest) (string, error)
	CancelRecurringCharge(ctx context.Context, providerOrderCode string) (bool, error)
}

var (
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrMissingCredentials = errors.New("missing_credentials")
)
