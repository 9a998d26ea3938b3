/**
 * @description
 * This package provides a client for the currencyapi.com "latest" endpoint. Only the
 * ETB and USD quotes are requested; both are expressed against the provider's base
 * currency, which is USD unless the account is configured otherwise.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Exact parsing of quoted values.
 */
package currencyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the exchange-rate provider.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new exchange-rate client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Quote is a single currency value relative to the base.
type Quote struct {
	Code  string          `json:"code"`
	Value decimal.Decimal `json:"value"`
}

// LatestResponse is the provider's payload.
type LatestResponse struct {
	Meta struct {
		LastUpdatedAt time.Time `json:"last_updated_at"`
	} `json:"meta"`
	Data map[string]Quote `json:"data"`
}

// Rates is the validated ETB/USD pair.
type Rates struct {
	ETB       decimal.Decimal
	USD       decimal.Decimal
	UpdatedAt time.Time
}

// ErrorResponse represents an error from the provider.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("currency api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unknown currency api error (status %d)", e.StatusCode)
}

// Latest fetches the current ETB and USD values.
func (c *Client) Latest(ctx context.Context) (*Rates, error) {
	query := url.Values{}
	query.Set("apikey", c.APIKey)
	query.Set("currencies", "USD,ETB")
	endpoint := c.BaseURL + "/v3/latest?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create currency request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to currency api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read currency response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("level=warn component=currency_client path=/v3/latest status=%d", resp.StatusCode)
		apiErr := &ErrorResponse{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return nil, apiErr
	}

	var latest LatestResponse
	if err := json.Unmarshal(body, &latest); err != nil {
		return nil, fmt.Errorf("failed to decode currency response: %w", err)
	}

	etb, ok := latest.Data["ETB"]
	if !ok || !etb.Value.IsPositive() {
		return nil, fmt.Errorf("currency response missing a positive ETB quote")
	}
	usd, ok := latest.Data["USD"]
	if !ok || !usd.Value.IsPositive() {
		return nil, fmt.Errorf("currency response missing a positive USD quote")
	}

	updatedAt := latest.Meta.LastUpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return &Rates{ETB: etb.Value, USD: usd.Value, UpdatedAt: updatedAt}, nil
}
