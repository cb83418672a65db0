package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	"gorm.io/gorm"
)

type CreateOrderItemRequest struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	VATRate   int    `json:"vat_rate,omitempty"`
}

type CreateOrderRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone,omitempty"`

	ShipStreet     string `json:"ship_street"`
	ShipCity       string `json:"ship_city"`
	ShipPostalCode string `json:"ship_postal_code"`
	ShipCountry    string `json:"ship_country"`

	Currency string                   `json:"currency"`
	Shipping int64                    `json:"shipping,omitempty"`
	Discount int64                    `json:"discount,omitempty"`
	Items    []CreateOrderItemRequest `json:"items"`
}

type CreateOrderResponse struct {
	Order       Order  `json:"order"`
	CheckoutURL string `json:"checkout_url"`
}

// PaymentOutcome is one row of the fixed payment-to-order transition table.
type PaymentOutcome struct {
	PaymentState gatewaydomain.PaymentState
	OrderState   OrderState
}

// OutcomeFor returns the order transition for a canonical payment state.
// Pending has no transition, the order keeps whatever state it has.
func OutcomeFor(state gatewaydomain.PaymentState) (PaymentOutcome, bool) {
	switch state {
	case gatewaydomain.PaymentStateCompleted:
		return PaymentOutcome{PaymentState: state, OrderState: OrderStateProcessing}, true
	case gatewaydomain.PaymentStateCancelled:
		return PaymentOutcome{PaymentState: state, OrderState: OrderStateCancelled}, true
	case gatewaydomain.PaymentStateFailed:
		return PaymentOutcome{PaymentState: state, OrderState: OrderStateCancelled}, true
	case gatewaydomain.PaymentStateRefunded:
		return PaymentOutcome{PaymentState: state, OrderState: OrderStateRefunded}, true
	default:
		return PaymentOutcome{}, false
	}
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (Order, error)
	GetByProviderRef(ctx context.Context, providerOrderCode string) (Order, error)
	// ApplyPaymentOutcome applies the fixed transition table. Re-applying a
	// state the order already holds is a no-op.
	ApplyPaymentOutcome(ctx context.Context, id snowflake.ID, state gatewaydomain.PaymentState) (Order, error)
	// AttachLedgerRef records the accounting-side reference. A ref that is
	// already set wins; later values are dropped.
	AttachLedgerRef(ctx context.Context, id snowflake.ID, ref string) error
	AttachFulfillmentRef(ctx context.Context, id snowflake.ID, ref string) error
	AppendWarning(ctx context.Context, id snowflake.ID, warning string) error
	MarkShipped(ctx context.Context, id snowflake.ID) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, providerOrderCode string) (*Order, error)
	FindWithOpenShipments(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]Order, error)
	Update(ctx context.Context, db *gorm.DB, order *Order) error
}

var (
	ErrNotFound       = errors.New("order_not_found")
	ErrInvalidRequest = errors.New("order_invalid_request")
	ErrEmptyItems     = errors.New("order_empty_items")
)
