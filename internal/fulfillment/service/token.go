package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/smallcraft/commerce-core/internal/clock"
	fulfillmentdomain "github.com/smallcraft/commerce-core/internal/fulfillment/domain"
)

// tokenRefreshMargin renews the token slightly before the reported expiry so
// an in-flight request never rides an expiring token.
const tokenRefreshMargin = 30 * time.Second

type tokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	clock     clock.Clock
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
}

type tokenRequest struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

func newTokenCache(clk clock.Clock, baseURL, apiKey, apiSecret string, client *http.Client) *tokenCache {
	return &tokenCache{
		clock:     clk,
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    client,
	}
}

// get returns a valid bearer token, fetching a fresh one when the cached
// token is missing or about to expire. The expiry is re-checked under the
// write lock so concurrent callers refresh at most once.
func (c *tokenCache) get(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.valid() {
		token := c.token
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid() {
		return c.token, nil
	}

	token, expiresAt, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = expiresAt
	return token, nil
}

func (c *tokenCache) valid() bool {
	return c.token != "" && c.clock.Now().Before(c.expiresAt.Add(-tokenRefreshMargin))
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *tokenCache) fetch(ctx context.Context) (string, time.Time, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return "", time.Time{}, fulfillmentdomain.ErrMissingCredentials
	}

	payload, err := json.Marshal(tokenRequest{Key: c.apiKey, Secret: c.apiSecret})
	if err != nil {
		return "", time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", time.Time{}, fulfillmentdomain.ErrFulfillmentUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", time.Time{}, fulfillmentdomain.ErrAuthFailed
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", time.Time{}, fulfillmentdomain.ErrFulfillmentUnavailable
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, err
	}
	if body.Token == "" || body.ExpiresIn <= 0 {
		return "", time.Time{}, fulfillmentdomain.ErrAuthFailed
	}

	return body.Token, c.clock.Now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}
