/**
 * @description
 * This package wraps stripe-go for the card (USD) donation path: hosted checkout
 * session creation and signed webhook parsing. The transaction reference is attached
 * as metadata to both the session and its payment intent so every webhook can be
 * traced back to its donation.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v76: Stripe API client and webhook verification.
 * - github.com/shopspring/decimal: Amount to minor-unit conversion.
 */
package stripeclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	stripeapi "github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// SignatureHeader is the header Stripe signs webhook deliveries with.
const SignatureHeader = "Stripe-Signature"

// Metadata keys written on sessions and payment intents.
const (
	MetadataTxRef      = "txRef"
	MetadataCampaignID = "campaignId"
	MetadataUserID     = "userId"
)

var (
	ErrInvalidSignature = errors.New("invalid stripe signature")
	ErrInvalidAmount    = errors.New("amount must be at least one cent")
)

// Client is a client for the Stripe API.
type Client struct {
	api           *stripeapi.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewClient creates a new Stripe client. backends may be nil to use the live API.
func NewClient(secretKey, webhookSecret, frontendURL string, backends *stripe.Backends) *Client {
	api := &stripeapi.API{}
	api.Init(secretKey, backends)
	return &Client{
		api:           api,
		webhookSecret: webhookSecret,
		successURL:    frontendURL + "/donation/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:     frontendURL + "/donation/cancel",
	}
}

// CheckoutRequest describes a single-item USD donation checkout.
type CheckoutRequest struct {
	TxRef        string
	CampaignID   string
	CampaignName string
	UserID       string
	Email        string
	Amount       decimal.Decimal
}

// CheckoutSession is the subset of the Stripe session the caller needs.
type CheckoutSession struct {
	ID  string
	URL string
}

// ToMinorUnits rounds a USD amount to whole cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// CreateCheckoutSession opens a hosted payment page for the donation.
func (c *Client) CreateCheckoutSession(req CheckoutRequest) (*CheckoutSession, error) {
	cents := ToMinorUnits(req.Amount)
	if cents < 1 {
		return nil, ErrInvalidAmount
	}

	metadata := map[string]string{
		MetadataTxRef:      req.TxRef,
		MetadataCampaignID: req.CampaignID,
	}
	if req.UserID != "" {
		metadata[MetadataUserID] = req.UserID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		ClientReferenceID:  stripe.String(req.TxRef),
		SuccessURL:         stripe.String(c.successURL),
		CancelURL:          stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(string(stripe.CurrencyUSD)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Donation to " + req.CampaignName),
					},
					UnitAmount: stripe.Int64(cents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		log.Printf("level=warn component=stripe_client op=create_checkout_session tx_ref=%s err=%v", req.TxRef, err)
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// WebhookEvent is a verified webhook reduced to what donation reconciliation uses.
type WebhookEvent struct {
	ID             string
	Type           stripe.EventType
	TxRef          string
	CampaignID     string
	PaymentStatus  string
	FailureMessage string
	// Amount is in major units. Currency is the gateway's lower-case ISO code.
	Amount   decimal.Decimal
	Currency string
}

// ParseWebhook verifies the signature header and extracts the donation reference.
func (c *Client) ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: event.Type}
	if event.Data == nil {
		return out, nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		out.TxRef = sess.Metadata[MetadataTxRef]
		if out.TxRef == "" {
			out.TxRef = sess.ClientReferenceID
		}
		out.CampaignID = sess.Metadata[MetadataCampaignID]
		out.PaymentStatus = string(sess.PaymentStatus)
		out.Amount = fromMinorUnits(sess.AmountTotal)
		out.Currency = string(sess.Currency)
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		out.TxRef = intent.Metadata[MetadataTxRef]
		out.CampaignID = intent.Metadata[MetadataCampaignID]
		out.PaymentStatus = string(intent.Status)
		out.Amount = fromMinorUnits(intent.AmountReceived)
		out.Currency = string(intent.Currency)
		if intent.LastPaymentError != nil {
			out.FailureMessage = intent.LastPaymentError.Msg
		}
	}
	return out, nil
}
