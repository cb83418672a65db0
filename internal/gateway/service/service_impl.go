package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/smallcraft/commerce-core/internal/config"
	gatewaydomain "github.com/smallcraft/commerce-core/internal/gateway/domain"
	"github.com/smallcraft/commerce-core/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	baseURL       string
	apiKey        string
	webhookSecret string
	successURL    string
	client        *http.Client
}

type ServiceParam struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

func NewService(p ServiceParam) gatewaydomain.Service {
	return &Service{
		log:     p.Log.Named("gateway.service"),
		metrics: p.Metrics,

		baseURL:       strings.TrimRight(p.Cfg.Gateway.BaseURL, "/"),
		apiKey:        p.Cfg.Gateway.APIKey,
		webhookSecret: p.Cfg.Gateway.WebhookSecret,
		successURL:    p.Cfg.Gateway.SuccessURL,
		client:        &http.Client{Timeout: p.Cfg.Gateway.Timeout},
	}
}

type orderRequest struct {
	Amount      int64         `json:"amount"`
	Currency    string        `json:"currency"`
	Customer    orderCustomer `json:"customer"`
	MerchantRef string        `json:"merchant_reference"`
	Description string        `json:"description,omitempty"`
	SuccessURL  string        `json:"success_url,omitempty"`
	Recurring   bool          `json:"recurring"`
}

type orderCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type orderResponse struct {
	OrderCode   string `json:"order_code"`
	CheckoutURL string `json:"checkout_url"`
}

type recurringRequest struct {
	OriginalOrderCode string `json:"original_order_code"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Description       string `json:"description,omitempty"`
}

type recurringResponse struct {
	TransactionID string `json:"transaction_id"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// CreateOrder implements domain.Service.
func (s *Service) CreateOrder(ctx context.Context, req gatewaydomain.CreateOrderRequest) (gatewaydomain.CreateOrderResponse, error) {
	if s.apiKey == "" {
		return gatewaydomain.CreateOrderResponse{}, gatewaydomain.ErrMissingCredentials
	}
	if req.Amount <= 0 || strings.TrimSpace(req.Currency) == "" {
		return gatewaydomain.CreateOrderResponse{}, gatewaydomain.ErrInvalidRequest
	}

	body := orderRequest{
		Amount:   req.Amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Customer: orderCustomer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
		},
		MerchantRef: req.MerchantRef,
		Description: req.Description,
		SuccessURL:  s.successURL,
		Recurring:   req.Recurring,
	}

	var resp orderResponse
	if err := s.post(ctx, "/v2/orders", body, &resp); err != nil {
		s.metrics.RecordGatewayCall(ctx, "create_order", "error")
		s.log.Warn("create order failed",
			zap.String("merchant_ref", req.MerchantRef),
			zap.Error(err),
		)
		return gatewaydomain.CreateOrderResponse{}, err
	}
	if resp.OrderCode == "" || resp.CheckoutURL == "" {
		s.metrics.RecordGatewayCall(ctx, "create_order", "error")
		return gatewaydomain.CreateOrderResponse{}, gatewaydomain.ErrInvalidPayload
	}

	s.metrics.RecordGatewayCall(ctx, "create_order", "ok")
	return gatewaydomain.CreateOrderResponse{
		ProviderOrderCode: resp.OrderCode,
		CheckoutURL:       resp.CheckoutURL,
	}, nil
}

// VerifyWebhookSignature implements domain.Service.
func (s *Service) VerifyWebhookSignature(payload []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if s.webhookSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// MapProviderStatus implements domain.Service.
func (s *Service) MapProviderStatus(code int) gatewaydomain.PaymentState {
	switch code {
	case 2:
		return gatewaydomain.PaymentStateCompleted
	case 3:
		return gatewaydomain.PaymentStateCancelled
	case 4:
		return gatewaydomain.PaymentStateFailed
	case 5:
		return gatewaydomain.PaymentStateRefunded
	default:
		return gatewaydomain.PaymentStatePending
	}
}

// CreateRecurringCharge implements domain.Service.
func (s *Service) CreateRecurringCharge(ctx context.Context, req gatewaydomain.RecurringChargeRequest) (string, error) {
	if s.apiKey == "" {
		return "", gatewaydomain.ErrMissingCredentials
	}
	if strings.TrimSpace(req.OriginalOrderRef) == "" || req.Amount <= 0 {
		return "", gatewaydomain.ErrInvalidRequest
	}

	body := recurringRequest{
		OriginalOrderCode: req.OriginalOrderRef,
		Amount:            req.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
		Description:       req.Description,
	}

	var resp recurringResponse
	if err := s.post(ctx, "/v2/recurring/charges", body, &resp); err != nil {
		s.metrics.RecordGatewayCall(ctx, "recurring_charge", "error")
		return "", err
	}
	if resp.TransactionID == "" {
		s.metrics.RecordGatewayCall(ctx, "recurring_charge", "error")
		return "", gatewaydomain.ErrInvalidPayload
	}

	s.metrics.RecordGatewayCall(ctx, "recurring_charge", "ok")
	return resp.TransactionID, nil
}

// CancelRecurringCharge implements domain.Service.
func (s *Service) CancelRecurringCharge(ctx context.Context, providerOrderCode string) (bool, error) {
	if s.apiKey == "" {
		return false, gatewaydomain.ErrMissingCredentials
	}
	if strings.TrimSpace(providerOrderCode) == "" {
		return false, gatewaydomain.ErrInvalidRequest
	}

	url := fmt.Sprintf("%s/v2/recurring/%s", s.baseURL, providerOrderCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("X-Api-Key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.RecordGatewayCall(ctx, "cancel_recurring", "error")
		return false, gatewaydomain.ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		s.metrics.RecordGatewayCall(ctx, "cancel_recurring", "error")
		return false, gatewaydomain.ErrGatewayUnavailable
	}
	if resp.StatusCode >= http.StatusBadRequest {
		// The provider rejects cancellation of an already-cancelled mandate.
		// That is not an error for us, the mandate is gone either way.
		s.metrics.RecordGatewayCall(ctx, "cancel_recurring", "rejected")
		return false, nil
	}

	var body cancelResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.metrics.RecordGatewayCall(ctx, "cancel_recurring", "error")
		return false, gatewaydomain.ErrInvalidPayload
	}

	s.metrics.RecordGatewayCall(ctx, "cancel_recurring", "ok")
	return body.Cancelled, nil
}

func (s *Service) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return gatewaydomain.ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return gatewaydomain.ErrGatewayUnavailable
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status_%d", gatewaydomain.ErrInvalidRequest, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
