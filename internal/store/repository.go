/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the campaign-service needs. Business logic in internal/app depends only on
 * this interface, which keeps the PostgreSQL implementation swappable and lets tests
 * substitute in-memory stubs.
 *
 * @dependencies
 * - github.com/google/uuid: Identifier handling.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
)

var (
	ErrCampaignNotFound         = errors.New("campaign not found")
	ErrCampaignStatusConflict   = errors.New("campaign status changed concurrently")
	ErrContactPhoneNotFound     = errors.New("campaign contact phone not found")
	ErrDonationNotFound         = errors.New("donation not found")
	ErrDonationAlreadyProcessed = errors.New("donation already processed")
	ErrDuplicateTxRef           = errors.New("transaction reference already exists")
	ErrCurrencyRateNotFound     = errors.New("currency rate not found")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Campaign methods
	GetCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, opts domain.CampaignListOptions) ([]domain.Campaign, error)
	GetCampaignContactPhone(ctx context.Context, campaignID uuid.UUID) (string, error)
	// TransitionCampaignStatus moves the campaign to `to` only when its current status is
	// one of `from`. ErrCampaignStatusConflict means the row exists in another status.
	TransitionCampaignStatus(ctx context.Context, campaignID uuid.UUID, from []domain.CampaignStatus, to domain.CampaignStatus) (*domain.Campaign, error)
	// CloseActiveCampaign moves an ACTIVE campaign to `to` and writes its closure record in
	// one transaction. When the campaign is already in `to`, the missing record is written
	// and transitioned is false.
	CloseActiveCampaign(ctx context.Context, campaignID uuid.UUID, to domain.CampaignStatus, reason string, isCompleted bool) (campaign *domain.Campaign, transitioned bool, err error)
	CloseCampaignsPastDeadline(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListClosedCampaignsMissingClosure(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	InsertClosureRecord(ctx context.Context, campaignID uuid.UUID, reason string, isCompleted bool) (bool, error)
	GetClosureRecord(ctx context.Context, campaignID uuid.UUID) (*domain.ClosedCampaign, error)

	// Close verification code methods
	SetCloseCode(ctx context.Context, campaignID uuid.UUID, codeHash string, expiresAt time.Time) error
	ConsumeCloseCode(ctx context.Context, campaignID uuid.UUID, verifiedAt time.Time) error

	// Donation methods
	CreateDonation(ctx context.Context, donation *domain.Donation) error
	GetDonationByTxRef(ctx context.Context, txRef string) (*domain.Donation, error)
	ListVerifiedDonationsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, error)
	ListVerifiedDonationsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Donation, error)
	// VerifyDonationAndCredit flips a PENDING donation to VERIFIED and credits its amount to
	// the campaign's ledger in the donation currency, atomically.
	VerifyDonationAndCredit(ctx context.Context, txRef string) (*domain.Donation, *domain.Campaign, error)
	MarkDonationFailed(ctx context.Context, txRef string, reason string) (*domain.Donation, error)

	// Currency rate methods
	GetLatestCurrencyRate(ctx context.Context) (*domain.CurrencyRate, error)
	ReplaceCurrencyRate(ctx context.Context, rate domain.CurrencyRate) error
}
