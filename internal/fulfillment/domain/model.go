// Package domain defines the warehouse system adapter contract.
package domain

import (
	"context"
	"errors"
)

// ShipmentLine is one physical item to pick. SKUs unknown to the warehouse
// are rejected by the remote side, not filtered here.
type ShipmentLine struct {
	SKU      string
	Name     string
	Quantity int
}

// Address is the delivery address forwarded to the warehouse.
type Address struct {
	Name       string
	Street     string
	City       string
	PostalCode string
	Country    string
	Phone      string
	Email      string
}

type CreateShipmentRequest struct {
	ExternalRef string
	Address     Address
	Lines       []ShipmentLine
	CODAmount   int64
	Currency    string
	Note        string
}

type CreateShipmentResponse struct {
	ShipmentID  string
	TrackingRef string
}

// ShipmentStatus is the warehouse-side progress of a shipment.
type ShipmentStatus string

const (
	ShipmentStatusReceived  ShipmentStatus = "RECEIVED"
	ShipmentStatusPicking   ShipmentStatus = "PICKING"
	ShipmentStatusShipped   ShipmentStatus = "SHIPPED"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
	ShipmentStatusReturned  ShipmentStatus = "RETURNED"
	ShipmentStatusUnknown   ShipmentStatus = "UNKNOWN"
)

type Service interface {
	CreateShipment(ctx context.Context, req CreateShipmentRequest) (CreateShipmentResponse, error)
	GetShipmentStatus(ctx context.Context, shipmentID string) (ShipmentStatus, error)
	TestConnection(ctx context.Context) error
}

var (
	ErrFulfillmentUnavailable = errors.New("fulfillment_unavailable")
	ErrInvalidRequest         = errors.New("fulfillment_invalid_request")
	ErrMissingCredentials     = errors.New("fulfillment_missing_credentials")
	ErrAuthFailed             = errors.New("fulfillment_auth_failed")
	ErrShipmentNotFound       = errors.New("shipment_not_found")
)
