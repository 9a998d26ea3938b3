package domain

import "github.com/shopspring/decimal"

// CreateDonationRequest is the body of both donation intent endpoints.
type CreateDonationRequest struct {
	Email          string          `json:"email" validate:"required,email"`
	Amount         decimal.Decimal `json:"amount"`
	DonorFirstName string          `json:"donorFirstName" validate:"required,max=100"`
	DonorLastName  string          `json:"donorLastName" validate:"required,max=100"`
	IsAnonymous    bool            `json:"isAnonymous"`
}

// CreateCheckoutSessionRequest is the body of the card checkout endpoint.
type CreateCheckoutSessionRequest struct {
	CampaignID     string          `json:"campaignId" validate:"required,uuid"`
	Email          string          `json:"email" validate:"required,email"`
	Amount         decimal.Decimal `json:"amount"`
	DonorFirstName string          `json:"donorFirstName" validate:"required,max=100"`
	DonorLastName  string          `json:"donorLastName" validate:"required,max=100"`
	IsAnonymous    bool            `json:"isAnonymous"`
}

// VerifyDonationRequest is the regional gateway callback payload. Only tx_ref is trusted;
// everything else is re-read from the gateway.
type VerifyDonationRequest struct {
	TxRef  string `json:"tx_ref" validate:"required"`
	Status string `json:"status"`
}

// CloseCampaignRequest carries the owner's reason for closing early.
type CloseCampaignRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// VerifyCodeRequest carries the SMS code typed by the owner.
type VerifyCodeRequest struct {
	Code string `json:"code" validate:"required,max=12"`
}

// UpdateCampaignStatusRequest is the reviewer's status change.
type UpdateCampaignStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING ACTIVE CLOSED CANCELED"`
}
