package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallcraft/commerce-core/internal/config"
	ledgerdomain "github.com/smallcraft/commerce-core/internal/ledger/domain"
	"github.com/smallcraft/commerce-core/internal/observability/metrics"
	"github.com/smallcraft/commerce-core/pkg/pacer"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// fallbackArticleSKU is the catch-all article used when per-SKU article
// creation is disabled. It must exist in the accounting system.
const fallbackArticleSKU = "GENERIC"

type Service struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	baseURL     string
	apiKey      string
	skipArticle bool
	client      *http.Client
	pacer       *pacer.Pacer
}

type ServiceParam struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		log:     p.Log.Named("ledger.service"),
		metrics: p.Metrics,

		baseURL:     strings.TrimRight(p.Cfg.Ledger.BaseURL, "/"),
		apiKey:      p.Cfg.Ledger.APIKey,
		skipArticle: p.Cfg.Ledger.SkipArticleCreation,
		client:      &http.Client{Timeout: p.Cfg.Ledger.Timeout},
		pacer:       pacer.New(p.Cfg.Ledger.CallDelay),
	}
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type customerRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type articlePayload struct {
	SKU     string `json:"sku"`
	Name    string `json:"name"`
	VATRate int    `json:"vat_rate"`
}

type articleRecord struct {
	ID      string `json:"id"`
	SKU     string `json:"sku"`
	Name    string `json:"name"`
	VATRate int    `json:"vat_rate"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type orderPayload struct {
	CustomerID  string             `json:"customer_id"`
	ExternalRef string             `json:"external_reference"`
	Currency    string             `json:"currency"`
	IssuedAt    string             `json:"issued_at"`
	Lines       []orderLinePayload `json:"lines"`
}

type orderLinePayload struct {
	ArticleID   string `json:"article_id"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	VATRate     int    `json:"vat_rate"`
}

type orderRecord struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
}

// EnsureCustomer implements domain.Service.
func (s *Service) EnsureCustomer(ctx context.Context, req ledgerdomain.EnsureCustomerRequest) (ledgerdomain.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return ledgerdomain.Customer{}, ledgerdomain.ErrInvalidRequest
	}

	var found listResponse[customerRecord]
	query := url.Values{"email": {email}}
	if err := s.get(ctx, "/api/customers?"+query.Encode(), &found); err != nil {
		return ledgerdomain.Customer{}, err
	}
	if len(found.Items) > 0 {
		c := found.Items[0]
		return ledgerdomain.Customer{ID: c.ID, Name: c.Name, Email: c.Email}, nil
	}

	var created customerRecord
	payload := customerPayload{Name: req.Name, Email: email}
	if err := s.post(ctx, "/api/customers", payload, &created); err != nil {
		return ledgerdomain.Customer{}, err
	}

	s.log.Info("ledger customer created",
		zap.String("customer_id", created.ID),
		zap.String("email", email),
	)
	return ledgerdomain.Customer{ID: created.ID, Name: created.Name, Email: created.Email}, nil
}

// EnsureArticle implements domain.Service.
func (s *Service) EnsureArticle(ctx context.Context, req ledgerdomain.EnsureArticleRequest) (ledgerdomain.Article, error) {
	sku := strings.TrimSpace(req.SKU)
	if s.skipArticle {
		sku = fallbackArticleSKU
	}
	if sku == "" {
		return ledgerdomain.Article{}, ledgerdomain.ErrInvalidRequest
	}

	var found listResponse[articleRecord]
	query := url.Values{"sku": {sku}}
	if err := s.get(ctx, "/api/articles?"+query.Encode(), &found); err != nil {
		return ledgerdomain.Article{}, err
	}
	if len(found.Items) > 0 {
		a := found.Items[0]
		return ledgerdomain.Article{ID: a.ID, SKU: a.SKU, Name: a.Name, VATRate: a.VATRate}, nil
	}
	if s.skipArticle {
		// The fallback article is provisioned out of band. Failing loud beats
		// silently filling the ledger with generated catch-alls.
		return ledgerdomain.Article{}, fmt.Errorf("%w: fallback article %q not found", ledgerdomain.ErrInvalidRequest, sku)
	}

	var created articleRecord
	payload := articlePayload{SKU: sku, Name: req.Name, VATRate: req.VATRate}
	if err := s.post(ctx, "/api/articles", payload, &created); err != nil {
		return ledgerdomain.Article{}, err
	}

	s.log.Info("ledger article created",
		zap.String("article_id", created.ID),
		zap.String("sku", sku),
	)
	return ledgerdomain.Article{ID: created.ID, SKU: created.SKU, Name: created.Name, VATRate: created.VATRate}, nil
}

// CreateOrder implements domain.Service.
func (s *Service) CreateOrder(ctx context.Context, req ledgerdomain.CreateOrderRequest) (ledgerdomain.CreateOrderResponse, error) {
	if req.CustomerID == "" || len(req.Lines) == 0 {
		return ledgerdomain.CreateOrderResponse{}, ledgerdomain.ErrInvalidRequest
	}

	issuedAt := req.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}

	payload := orderPayload{
		CustomerID:  req.CustomerID,
		ExternalRef: req.ExternalRef,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		IssuedAt:    issuedAt.Format("2006-01-02"),
		Lines:       make([]orderLinePayload, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ArticleID:   line.ArticleID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			VATRate:     line.VATRate,
		})
	}

	var created orderRecord
	if err := s.post(ctx, "/api/orders", payload, &created); err != nil {
		s.metrics.RecordSyncAttempt(ctx, "ledger", "error")
		return ledgerdomain.CreateOrderResponse{}, err
	}

	s.metrics.RecordSyncAttempt(ctx, "ledger", "ok")
	return ledgerdomain.CreateOrderResponse{OrderID: created.ID, OrderNumber: created.OrderNumber}, nil
}

// TestConnection implements domain.Service.
func (s *Service) TestConnection(ctx context.Context) error {
	var out listResponse[customerRecord]
	query := url.Values{"limit": {"1"}}
	return s.get(ctx, "/api/customers?"+query.Encode(), &out)
}

func (s *Service) get(ctx context.Context, path string, out any) error {
	return s.do(ctx, http.MethodGet, path, nil, out)
}

func (s *Service) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return s.do(ctx, http.MethodPost, path, payload, out)
}

func (s *Service) do(ctx context.Context, method, path string, body []byte, out any) error {
	if s.apiKey == "" {
		return ledgerdomain.ErrMissingCredentials
	}
	if err := s.pacer.Wait(ctx); err != nil {
		return err
	}

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ledgerdomain.ErrLedgerUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return ledgerdomain.ErrLedgerUnavailable
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status_%d", ledgerdomain.ErrInvalidRequest, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
