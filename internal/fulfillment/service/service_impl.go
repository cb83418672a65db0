package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/smallcraft/commerce-core/internal/clock"
	"github.com/smallcraft/commerce-core/internal/config"
	fulfillmentdomain "github.com/smallcraft/commerce-core/internal/fulfillment/domain"
	"github.com/smallcraft/commerce-core/internal/observability/metrics"
	"github.com/smallcraft/commerce-core/pkg/pacer"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	baseURL string
	client  *http.Client
	tokens  *tokenCache
	pacer   *pacer.Pacer
}

type ServiceParam struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

func NewService(p ServiceParam) fulfillmentdomain.Service {
	baseURL := strings.TrimRight(p.Cfg.Fulfillment.BaseURL, "/")
	client := &http.Client{Timeout: p.Cfg.Fulfillment.Timeout}

	return &Service{
		log:     p.Log.Named("fulfillment.service"),
		metrics: p.Metrics,

		baseURL: baseURL,
		client:  client,
		tokens:  newTokenCache(p.Clock, baseURL, p.Cfg.Fulfillment.APIKey, p.Cfg.Fulfillment.APISecret, client),
		pacer:   pacer.New(p.Cfg.Fulfillment.CallDelay),
	}
}

type shipmentPayload struct {
	ExternalRef string                 `json:"external_reference"`
	Address     shipmentAddressPayload `json:"address"`
	Lines       []shipmentLinePayload  `json:"lines"`
	CODAmount   int64                  `json:"cod_amount,omitempty"`
	Currency    string                 `json:"currency,omitempty"`
	Note        string                 `json:"note,omitempty"`
}

type shipmentAddressPayload struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

type shipmentLinePayload struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type shipmentRecord struct {
	ID          string `json:"id"`
	TrackingRef string `json:"tracking_reference"`
	Status      string `json:"status"`
}

// CreateShipment implements domain.Service.
func (s *Service) CreateShipment(ctx context.Context, req fulfillmentdomain.CreateShipmentRequest) (fulfillmentdomain.CreateShipmentResponse, error) {
	if strings.TrimSpace(req.ExternalRef) == "" || len(req.Lines) == 0 {
		return fulfillmentdomain.CreateShipmentResponse{}, fulfillmentdomain.ErrInvalidRequest
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 || strings.TrimSpace(line.SKU) == "" {
			return fulfillmentdomain.CreateShipmentResponse{}, fulfillmentdomain.ErrInvalidRequest
		}
	}

	payload := shipmentPayload{
		ExternalRef: req.ExternalRef,
		Address: shipmentAddressPayload{
			Name:       req.Address.Name,
			Street:     req.Address.Street,
			City:       req.Address.City,
			PostalCode: req.Address.PostalCode,
			Country:    req.Address.Country,
			Phone:      req.Address.Phone,
			Email:      req.Address.Email,
		},
		CODAmount: req.CODAmount,
		Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
		Note:      req.Note,
		Lines:     make([]shipmentLinePayload, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		payload.Lines = append(payload.Lines, shipmentLinePayload{
			SKU:      line.SKU,
			Name:     line.Name,
			Quantity: line.Quantity,
		})
	}

	var created shipmentRecord
	if err := s.do(ctx, http.MethodPost, "/api/shipments", payload, &created); err != nil {
		s.metrics.RecordSyncAttempt(ctx, "fulfillment", "error")
		return fulfillmentdomain.CreateShipmentResponse{}, err
	}

	s.metrics.RecordSyncAttempt(ctx, "fulfillment", "ok")
	return fulfillmentdomain.CreateShipmentResponse{
		ShipmentID:  created.ID,
		TrackingRef: created.TrackingRef,
	}, nil
}

// GetShipmentStatus implements domain.Service.
func (s *Service) GetShipmentStatus(ctx context.Context, shipmentID string) (fulfillmentdomain.ShipmentStatus, error) {
	if strings.TrimSpace(shipmentID) == "" {
		return fulfillmentdomain.ShipmentStatusUnknown, fulfillmentdomain.ErrInvalidRequest
	}

	var record shipmentRecord
	if err := s.do(ctx, http.MethodGet, "/api/shipments/"+shipmentID, nil, &record); err != nil {
		return fulfillmentdomain.ShipmentStatusUnknown, err
	}

	switch strings.ToUpper(strings.TrimSpace(record.Status)) {
	case "RECEIVED", "NEW":
		return fulfillmentdomain.ShipmentStatusReceived, nil
	case "PICKING", "PACKING":
		return fulfillmentdomain.ShipmentStatusPicking, nil
	case "SHIPPED", "IN_TRANSIT":
		return fulfillmentdomain.ShipmentStatusShipped, nil
	case "DELIVERED":
		return fulfillmentdomain.ShipmentStatusDelivered, nil
	case "RETURNED":
		return fulfillmentdomain.ShipmentStatusReturned, nil
	default:
		return fulfillmentdomain.ShipmentStatusUnknown, nil
	}
}

// TestConnection implements domain.Service.
func (s *Service) TestConnection(ctx context.Context) error {
	_, err := s.tokens.get(ctx)
	return err
}

func (s *Service) do(ctx context.Context, method, path string, body any, out any) error {
	if err := s.pacer.Wait(ctx); err != nil {
		return err
	}

	resp, err := s.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// Token revoked server side. Refresh once and retry.
		resp.Body.Close()
		s.tokens.invalidate()
		resp, err = s.send(ctx, method, path, body)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fulfillmentdomain.ErrShipmentNotFound
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fulfillmentdomain.ErrFulfillmentUnavailable
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fulfillmentdomain.ErrAuthFailed
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status_%d", fulfillmentdomain.ErrInvalidRequest, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Service) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := s.tokens.get(ctx)
	if err != nil {
		return nil, err
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fulfillmentdomain.ErrFulfillmentUnavailable
	}
	return resp, nil
}
