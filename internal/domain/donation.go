package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus tracks a donation through gateway confirmation.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusVerified PaymentStatus = "VERIFIED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

// Gateway identifies which payment provider handled a donation.
type Gateway string

const (
	GatewayChapa  Gateway = "chapa"
	GatewayStripe Gateway = "stripe"
)

// Medium selects the regional gateway checkout flavour.
type Medium string

const (
	MediumWeb    Medium = "web"
	MediumMobile Medium = "mobile"
)

// ParseMedium defaults an empty or unknown medium to web.
func ParseMedium(raw string) Medium {
	if Medium(raw) == MediumMobile {
		return MediumMobile
	}
	return MediumWeb
}

// Donation is a single pledge. TxRef is the idempotency key shared with the gateway.
type Donation struct {
	ID             uuid.UUID       `json:"id"`
	CampaignID     uuid.UUID       `json:"campaignId"`
	UserID         *uuid.UUID      `json:"userId,omitempty"`
	TxRef          string          `json:"txRef"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       Currency        `json:"currency"`
	DonorFirstName string          `json:"donorFirstName"`
	DonorLastName  string          `json:"donorLastName"`
	Email          string          `json:"email"`
	IsAnonymous    bool            `json:"isAnonymous"`
	PaymentStatus  PaymentStatus   `json:"paymentStatus"`
	Gateway        Gateway         `json:"gateway"`
	FailureReason  *string         `json:"failureReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Public returns a copy safe for public listings. Anonymous donors lose their identity.
func (d Donation) Public() Donation {
	if !d.IsAnonymous {
		return d
	}
	d.DonorFirstName = "Anonymous"
	d.DonorLastName = ""
	d.Email = ""
	d.UserID = nil
	return d
}

// Checkout is what the caller needs to complete payment with the gateway.
type Checkout struct {
	CheckoutURL string `json:"checkoutUrl"`
	TxRef       string `json:"txRef"`
	SessionID   string `json:"sessionId,omitempty"`
}

// FinalizeResult reports the outcome of confirming a donation.
type FinalizeResult struct {
	Applied    bool      `json:"applied"`
	Donation   *Donation `json:"donation,omitempty"`
	Campaign   *Campaign `json:"campaign,omitempty"`
	GoalMet    bool      `json:"goalMet"`
	ProgressIn Currency  `json:"progressCurrency,omitempty"`
	Progress   string    `json:"progress,omitempty"`
}
