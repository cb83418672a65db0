// Package domain contains persistence models for one-off orders.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	"gorm.io/datatypes"
)

// OrderState represents lifecycle states for a one-off order.
type OrderState string

const (
	OrderStatePending    OrderState = "PENDING"
	OrderStateConfirmed  OrderState = "CONFIRMED"
	OrderStateProcessing OrderState = "PROCESSING"
	OrderStateShipped    OrderState = "SHIPPED"
	OrderStateDelivered  OrderState = "DELIVERED"
	OrderStateCancelled  OrderState = "CANCELLED"
	OrderStateRefunded   OrderState = "REFUNDED"
)

// Order captures a one-off purchase. Totals are in minor currency units and
// are computed once at creation; they never change afterwards.
// LedgerRef and FulfillmentRef are monotonic: once set they are never
// cleared or overwritten, which keeps webhook redelivery safe.
type Order struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrderNumber string       `gorm:"type:text;not null;uniqueIndex"`

	CustomerName  string `gorm:"type:text;not null"`
	CustomerEmail string `gorm:"type:text;not null;index"`
	CustomerPhone string `gorm:"type:text"`

	ShipStreet     string `gorm:"type:text"`
	ShipCity       string `gorm:"type:text"`
	ShipPostalCode string `gorm:"type:text"`
	ShipCountry    string `gorm:"type:text"`

	Currency string `gorm:"type:text;not null"`
	Subtotal int64  `gorm:"not null"`
	Shipping int64  `gorm:"not null;default:0"`
	Tax      int64  `gorm:"not null;default:0"`
	Discount int64  `gorm:"not null;default:0"`
	Total    int64  `gorm:"not null"`

	PaymentState gatewaydomain.PaymentState `gorm:"type:text;not null"`
	OrderState   OrderState                 `gorm:"type:text;not null"`

	ProviderOrderCode string `gorm:"type:text;index"`
	CheckoutURL       string `gorm:"type:text"`

	LedgerRef      string                      `gorm:"type:text"`
	FulfillmentRef string                      `gorm:"type:text"`
	SyncWarnings   datatypes.JSONSlice[string] `gorm:"type:jsonb"`

	ShippedAt *time.Time `gorm:""`

	Items []OrderItem `gorm:"foreignKey:OrderID"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// OrderItem is one purchased line. UnitPrice is in minor currency units.
type OrderItem struct {
	ID      snowflake.ID `gorm:"primaryKey"`
	OrderID snowflake.ID `gorm:"not null;index"`

	SKU       string `gorm:"type:text;not null"`
	Name      string `gorm:"type:text;not null"`
	Quantity  int    `gorm:"not null"`
	UnitPrice int64  `gorm:"not null"`
	VATRate   int    `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrderItem) TableName() string { return "order_items" }
