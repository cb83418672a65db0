// Package notification sends customer-facing confirmations. Delivery is
// best effort: callers log failures and move on.
package notification

import (
	"context"

	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
)

type Provider interface {
	SendOrderConfirmation(ctx context.Context, order orderdomain.Order) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) SendOrderConfirmation(ctx context.Context, order orderdomain.Order) error {
	return nil
}
