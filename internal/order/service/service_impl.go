package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallcraft/commerce-core/internal/clock"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  orderdomain.Repository

	gatewaysvc gatewaydomain.Service
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  orderdomain.Repository

	Gatewaysvc gatewaydomain.Service
}

func NewService(p ServiceParam) orderdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("order.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		gatewaysvc: p.Gatewaysvc,
	}
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req orderdomain.CreateOrderRequest) (orderdomain.CreateOrderResponse, error) {
	if len(req.Items) == 0 {
		return orderdomain.CreateOrderResponse{}, orderdomain.ErrEmptyItems
	}
	if strings.TrimSpace(req.CustomerEmail) == "" || strings.TrimSpace(req.Currency) == "" {
		return orderdomain.CreateOrderResponse{}, orderdomain.ErrInvalidRequest
	}

	var subtotal, tax int64
	items := make([]orderdomain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitPrice < 0 || strings.TrimSpace(item.SKU) == "" {
			return orderdomain.CreateOrderResponse{}, orderdomain.ErrInvalidRequest
		}
		lineNet := int64(item.Quantity) * item.UnitPrice
		subtotal += lineNet
		tax += lineNet * int64(item.VATRate) / 100

		items = append(items, orderdomain.OrderItem{
			ID:        s.genID.Generate(),
			SKU:       strings.TrimSpace(item.SKU),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			VATRate:   item.VATRate,
		})
	}
	if req.Discount < 0 || req.Shipping < 0 {
		return orderdomain.CreateOrderResponse{}, orderdomain.ErrInvalidRequest
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	order := orderdomain.Order{
		ID:          id,
		OrderNumber: fmt.Sprintf("ORD-%d", id),

		CustomerName:  req.CustomerName,
		CustomerEmail: strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
		CustomerPhone: req.CustomerPhone,

		ShipStreet:     req.ShipStreet,
		ShipCity:       req.ShipCity,
		ShipPostalCode: req.ShipPostalCode,
		ShipCountry:    req.ShipCountry,

		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Subtotal: subtotal,
		Shipping: req.Shipping,
		Tax:      tax,
		Discount: req.Discount,
		Total:    subtotal + req.Shipping + tax - req.Discount,

		PaymentState: gatewaydomain.PaymentStatePending,
		OrderState:   orderdomain.OrderStatePending,

		Items: items,

		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		order.Items[i].CreatedAt = now
	}

	checkout, err := s.gatewaysvc.CreateOrder(ctx, gatewaydomain.CreateOrderRequest{
		Amount:   order.Total,
		Currency: order.Currency,
		Customer: gatewaydomain.CustomerInfo{
			Name:  order.CustomerName,
			Email: order.CustomerEmail,
		},
		MerchantRef: order.OrderNumber,
		Description: fmt.Sprintf("Order %s", order.OrderNumber),
	})
	if err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}
	order.ProviderOrderCode = checkout.ProviderOrderCode
	order.CheckoutURL = checkout.CheckoutURL

	if err := s.repo.Insert(ctx, s.db, &order); err != nil {
		return orderdomain.CreateOrderResponse{}, err
	}

	s.log.Info("order created",
		zap.Int64("order_id", int64(order.ID)),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.Total),
		zap.String("currency", order.Currency),
	)
	return orderdomain.CreateOrderResponse{Order: order, CheckoutURL: checkout.CheckoutURL}, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (orderdomain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return orderdomain.Order{}, err
	}
	return *order, nil
}

// GetByProviderRef implements domain.Service.
func (s *Service) GetByProviderRef(ctx context.Context, providerOrderCode string) (orderdomain.Order, error) {
	order, err := s.repo.FindByProviderRef(ctx, s.db, providerOrderCode)
	if err != nil {
		return orderdomain.Order{}, err
	}
	return *order, nil
}

// ApplyPaymentOutcome implements domain.Service.
func (s *Service) ApplyPaymentOutcome(ctx context.Context, id snowflake.ID, state gatewaydomain.PaymentState) (orderdomain.Order, error) {
	var result orderdomain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}

		outcome, ok := orderdomain.OutcomeFor(state)
		if !ok {
			result = *order
			return nil
		}
		// Once the payment state matches, the delivery is a replay. The
		// order state may have moved on since (shipment polling), so it
		// must not be rewound to the table row.
		if order.PaymentState == outcome.PaymentState {
			result = *order
			return nil
		}

		order.PaymentState = outcome.PaymentState
		order.OrderState = outcome.OrderState
		order.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, order); err != nil {
			return err
		}

		s.log.Info("payment outcome applied",
			zap.Int64("order_id", int64(order.ID)),
			zap.String("payment_state", string(outcome.PaymentState)),
			zap.String("order_state", string(outcome.OrderState)),
		)
		result = *order
		return nil
	})
	return result, err
}

// AttachLedgerRef implements domain.Service.
func (s *Service) AttachLedgerRef(ctx context.Context, id snowflake.ID, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return nil
	}
	// Conditional update keeps the ref monotonic under racing webhook
	// deliveries: first writer wins, later refs are dropped.
	return s.db.WithContext(ctx).Exec(
		`UPDATE orders SET ledger_ref = ?, updated_at = ? WHERE id = ? AND (ledger_ref IS NULL OR ledger_ref = '')`,
		ref, s.clock.Now(), id,
	).Error
}

// AttachFulfillmentRef implements domain.Service.
func (s *Service) AttachFulfillmentRef(ctx context.Context, id snowflake.ID, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Exec(
		`UPDATE orders SET fulfillment_ref = ?, updated_at = ? WHERE id = ? AND (fulfillment_ref IS NULL OR fulfillment_ref = '')`,
		ref, s.clock.Now(), id,
	).Error
}

// AppendWarning implements domain.Service.
func (s *Service) AppendWarning(ctx context.Context, id snowflake.ID, warning string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}

		stamped := fmt.Sprintf("%s %s", s.clock.Now().Format("2006-01-02T15:04:05Z07:00"), warning)
		order.SyncWarnings = append(order.SyncWarnings, stamped)
		order.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, order); err != nil {
			return err
		}

		s.log.Warn("order sync warning recorded",
			zap.Int64("order_id", int64(order.ID)),
			zap.String("warning", warning),
		)
		return nil
	})
}

// MarkShipped implements domain.Service.
func (s *Service) MarkShipped(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.OrderState != orderdomain.OrderStateProcessing {
			return nil
		}

		now := s.clock.Now()
		order.OrderState = orderdomain.OrderStateShipped
		order.ShippedAt = &now
		order.UpdatedAt = now
		return s.repo.Update(ctx, tx, order)
	})
}
