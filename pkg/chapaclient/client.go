/**
 * @description
 * This package provides a client for the Chapa payment gateway, the regional ETB
 * checkout used for local donations. It covers transaction initialization (web and
 * mobile checkout), verification by transaction reference, reference generation, and
 * webhook signature checking.
 *
 * @dependencies
 * - github.com/oklog/ulid/v2: Sortable, collision-resistant transaction references.
 * - github.com/shopspring/decimal: Amount serialization.
 */
package chapaclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// SignatureHeader carries the HMAC-SHA256 hex digest of the raw webhook body.
const SignatureHeader = "x-chapa-signature"

// Client is a client for the Chapa API.
type Client struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	HTTPClient    *http.Client
}

// NewClient creates a new Chapa API client.
func NewClient(baseURL, secretKey, webhookSecret string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		SecretKey:     secretKey,
		WebhookSecret: webhookSecret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Customization is the checkout page branding.
type Customization struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// InitializeRequest is the payload for both checkout initialization endpoints.
type InitializeRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Email         string          `json:"email"`
	FirstName     string          `json:"first_name"`
	LastName      string          `json:"last_name"`
	TxRef         string          `json:"tx_ref"`
	CallbackURL   string          `json:"callback_url"`
	ReturnURL     string          `json:"return_url,omitempty"`
	Customization Customization   `json:"customization"`
}

// InitializeResponse is returned by the initialization endpoints.
type InitializeResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

// VerifyResponse is returned by the verification endpoint.
type VerifyResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    struct {
		FirstName string          `json:"first_name"`
		LastName  string          `json:"last_name"`
		Email     string          `json:"email"`
		Currency  string          `json:"currency"`
		Amount    decimal.Decimal `json:"amount"`
		Status    string          `json:"status"`
		Reference string          `json:"reference"`
		TxRef     string          `json:"tx_ref"`
	} `json:"data"`
}

// Succeeded reports whether both the call and the underlying transaction succeeded.
func (r *VerifyResponse) Succeeded() bool {
	return r.Status == "success" && r.Data.Status == "success"
}

// ErrorResponse represents an error from the Chapa API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    any    `json:"message"`
	Status     string `json:"status"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != nil {
		return fmt.Sprintf("chapa api error (status %d): %v", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unknown chapa api error (status %d)", e.StatusCode)
}

// GenerateReference returns a new unique transaction reference.
func GenerateReference() string {
	return "TX-" + ulid.Make().String()
}

// Initialize starts a web checkout.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	var resp InitializeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/transaction/initialize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MobileInitialize starts a checkout tailored for the mobile apps.
func (c *Client) MobileInitialize(ctx context.Context, req InitializeRequest) (*InitializeResponse, error) {
	var resp InitializeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/transaction/mobile-initialize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify fetches the gateway's view of a transaction.
func (c *Client) Verify(ctx context.Context, txRef string) (*VerifyResponse, error) {
	var resp VerifyResponse
	path := "/v1/transaction/verify/" + url.PathEscape(txRef)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyWebhookSignature checks the hex HMAC-SHA256 of body against signature.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.WebhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal chapa request: %w", err)
		}
		body = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create chapa request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to chapa: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read chapa response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=chapa_client method=%s path=%s status=%d", method, path, resp.StatusCode)
		apiErr := &ErrorResponse{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode chapa response: %w", err)
	}
	return nil
}
