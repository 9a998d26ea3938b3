package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys published on the events exchange.
const (
	RoutingKeyDonationVerified = "donation.verified"
	RoutingKeyDonationFailed   = "donation.failed"
	RoutingKeyCampaignStatus   = "campaign.status."
)

// CampaignStatusRoutingKey returns the routing key for a transition into status.
func CampaignStatusRoutingKey(status CampaignStatus) string {
	return RoutingKeyCampaignStatus + string(status)
}

// DonationEvent is published when a donation is verified or fails.
type DonationEvent struct {
	DonationID uuid.UUID       `json:"donation_id"`
	CampaignID uuid.UUID       `json:"campaign_id"`
	TxRef      string          `json:"tx_ref"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency"`
	Status     PaymentStatus   `json:"status"`
	Gateway    Gateway         `json:"gateway"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// CampaignStatusEvent is published after every successful status transition.
type CampaignStatusEvent struct {
	CampaignID uuid.UUID      `json:"campaign_id"`
	From       CampaignStatus `json:"from,omitempty"`
	To         CampaignStatus `json:"to"`
	Reason     string         `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
