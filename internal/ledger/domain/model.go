// Package domain defines the accounting system adapter contract.
package domain

import (
	"context"
	"errors"
	"time"
)

// Customer is the accounting-side customer record.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Article is the accounting-side catalog item referenced by order lines.
type Article struct {
	ID      string `json:"id"`
	SKU     string `json:"sku"`
	Name    string `json:"name"`
	VATRate int    `json:"vat_rate"`
}

// OrderLine is one line of a ledger order. UnitPrice is in minor units.
type OrderLine struct {
	ArticleID   string
	SKU         string
	Description string
	Quantity    int
	UnitPrice   int64
	VATRate     int
}

type EnsureCustomerRequest struct {
	Name  string
	Email string
}

type EnsureArticleRequest struct {
	SKU     string
	Name    string
	VATRate int
}

type CreateOrderRequest struct {
	CustomerID  string
	ExternalRef string
	Currency    string
	Lines       []OrderLine
	IssuedAt    time.Time
}

type CreateOrderResponse struct {
	OrderID     string
	OrderNumber string
}

type Service interface {
	// EnsureCustomer finds a customer by email or creates one. Calling it
	// twice with the same email returns the same customer.
	EnsureCustomer(ctx context.Context, req EnsureCustomerRequest) (Customer, error)
	// EnsureArticle finds an article by SKU or creates one. When article
	// creation is disabled it resolves every SKU to the fallback article.
	EnsureArticle(ctx context.Context, req EnsureArticleRequest) (Article, error)
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	TestConnection(ctx context.Context) error
}

var (
	ErrLedgerUnavailable  = errors.New("ledger_unavailable")
	ErrInvalidRequest     = errors.New("ledger_invalid_request")
	ErrMissingCredentials = errors.New("ledger_missing_credentials")
)
