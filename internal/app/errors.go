package app

import (
	"errors"
	"fmt"
)

var (
	ErrCampaignNotActive   = errors.New("campaign is not active.")
	ErrInvalidTransition   = errors.New("campaign status transition not allowed")
	ErrNotCampaignOwner    = errors.New("only the campaign owner can perform this action")
	ErrCodeNotSent         = errors.New("verification code has not been sent yet.")
	ErrInvalidCode         = errors.New("invalid verification code.")
	ErrCodeExpired         = errors.New("verification code has expired.")
	ErrCloseNotVerified    = errors.New("close verification code must be confirmed first")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrGatewayFailure      = errors.New("payment gateway request failed")
	ErrSMSFailure          = errors.New("failed to send sms")
	ErrRateUnavailable     = errors.New("no currency rate available")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed by gateway")
	ErrUnsupportedGateway  = errors.New("payment gateway not configured")
	ErrRateRefreshFailed   = errors.New("currency rate refresh failed")
)

// RateLimitError is returned when a caller exceeded a limiter budget.
type RateLimitError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s; retry in %ds", e.Scope, e.RetryAfterSeconds)
}
