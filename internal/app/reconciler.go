/**
 * @description
 * Donation reconciliation. A donation starts as a PENDING row keyed by its transaction
 * reference, is handed to a hosted checkout, and is settled exactly once when the
 * gateway confirms it (webhook or polling). Settlement flips the status guard and
 * credits the campaign ledger in one database transaction, then asks the lifecycle
 * manager to close the campaign when the goal is reached.
 *
 * @dependencies
 * - pkg/chapaclient: Regional gateway (ETB).
 * - pkg/stripeclient: Card gateway (USD).
 * - github.com/shopspring/decimal: Amounts.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaleabSolomon/sewlesew-backend/internal/config"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
	"github.com/kaleabSolomon/sewlesew-backend/internal/store"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/chapaclient"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/stripeclient"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
)

const (
	regionalVerifyPath = "/api/donation/verify"
	checkoutTitle      = "Sewlesew"
)

// RegionalGateway is the ETB redirect checkout. Implemented by pkg/chapaclient.
type RegionalGateway interface {
	Initialize(ctx context.Context, req chapaclient.InitializeRequest) (*chapaclient.InitializeResponse, error)
	MobileInitialize(ctx context.Context, req chapaclient.InitializeRequest) (*chapaclient.InitializeResponse, error)
	Verify(ctx context.Context, txRef string) (*chapaclient.VerifyResponse, error)
}

// CardGateway is the USD hosted card checkout. Implemented by pkg/stripeclient.
type CardGateway interface {
	CreateCheckoutSession(req stripeclient.CheckoutRequest) (*stripeclient.CheckoutSession, error)
}

// Reconciler records donation intents and settles them against gateway confirmations.
type Reconciler struct {
	repo      store.Repository
	regional  RegionalGateway
	card      CardGateway
	rates     RateProvider
	lifecycle *Lifecycle
	limiter   RateLimiter
	events    eventEmitter
	logger    *slog.Logger
	config    config.Config
	newCardID func() string
}

// NewReconciler creates a new donation reconciler. Either gateway may be nil when it
// is not configured; its flows then fail with ErrUnsupportedGateway.
func NewReconciler(
	repo store.Repository,
	regional RegionalGateway,
	card CardGateway,
	rates RateProvider,
	lifecycle *Lifecycle,
	limiter RateLimiter,
	publisher EventPublisher,
	logger *slog.Logger,
	cfg config.Config,
) *Reconciler {
	return &Reconciler{
		repo:      repo,
		regional:  regional,
		card:      card,
		rates:     rates,
		lifecycle: lifecycle,
		limiter:   limiter,
		events:    eventEmitter{publisher: publisher, logger: logger},
		logger:    logger,
		config:    cfg,
		newCardID: func() string { return uuid.NewString() },
	}
}

func (r *Reconciler) activeCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	campaign, err := r.repo.GetCampaignByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusActive {
		return nil, store.ErrCampaignNotFound
	}
	return campaign, nil
}

func rateLimitSubject(userID *uuid.UUID, subject string) string {
	if userID != nil {
		return userID.String()
	}
	return subject
}

// Donate records a PENDING ETB donation and opens a regional checkout for it.
// userID is nil for guest donations. subject keys the rate limiter for guests.
func (r *Reconciler) Donate(
	ctx context.Context,
	campaignID uuid.UUID,
	req domain.CreateDonationRequest,
	medium domain.Medium,
	userID *uuid.UUID,
	subject string,
) (*domain.Checkout, error) {
	if !domain.ValidAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}
	if r.regional == nil {
		return nil, ErrUnsupportedGateway
	}
	if err := enforceRateLimit(ctx, r.limiter, r.logger, ScopeDonationIntent, rateLimitSubject(userID, subject), r.config.DonationRateLimitPerMinute, time.Minute); err != nil {
		return nil, err
	}

	campaign, err := r.activeCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	donation := &domain.Donation{
		ID:             uuid.New(),
		CampaignID:     campaign.ID,
		UserID:         userID,
		TxRef:          chapaclient.GenerateReference(),
		Amount:         req.Amount,
		Currency:       domain.CurrencyETB,
		DonorFirstName: strings.TrimSpace(req.DonorFirstName),
		DonorLastName:  strings.TrimSpace(req.DonorLastName),
		Email:          strings.TrimSpace(req.Email),
		IsAnonymous:    req.IsAnonymous,
		PaymentStatus:  domain.PaymentStatusPending,
		Gateway:        domain.GatewayChapa,
	}
	if err := r.repo.CreateDonation(ctx, donation); err != nil {
		return nil, err
	}

	initReq := chapaclient.InitializeRequest{
		Amount:      donation.Amount,
		Currency:    string(domain.CurrencyETB),
		Email:       donation.Email,
		FirstName:   donation.DonorFirstName,
		LastName:    donation.DonorLastName,
		TxRef:       donation.TxRef,
		CallbackURL: r.config.CallbackURL + regionalVerifyPath,
		ReturnURL:   r.config.FrontendURL + "/donation/success?tx_ref=" + donation.TxRef,
		Customization: chapaclient.Customization{
			Title:       checkoutTitle,
			Description: "Donation to " + campaign.Title,
		},
	}

	var resp *chapaclient.InitializeResponse
	if medium == domain.MediumMobile {
		resp, err = r.regional.MobileInitialize(ctx, initReq)
	} else {
		resp, err = r.regional.Initialize(ctx, initReq)
	}
	if err != nil {
		r.logger.Error("failed to initialize regional checkout", "tx_ref", donation.TxRef, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	if resp == nil || resp.Data.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: empty checkout url", ErrGatewayFailure)
	}

	r.logger.Info("donation intent created", "tx_ref", donation.TxRef, "campaign_id", campaign.ID, "medium", medium)
	return &domain.Checkout{CheckoutURL: resp.Data.CheckoutURL, TxRef: donation.TxRef}, nil
}

// CreateCardCheckout records a PENDING USD donation and opens a hosted card session.
func (r *Reconciler) CreateCardCheckout(ctx context.Context, req domain.CreateCheckoutSessionRequest, userID *uuid.UUID, subject string) (*domain.Checkout, error) {
	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		return nil, store.ErrCampaignNotFound
	}
	if !domain.ValidAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}
	if r.card == nil {
		return nil, ErrUnsupportedGateway
	}
	if err := enforceRateLimit(ctx, r.limiter, r.logger, ScopeDonationIntent, rateLimitSubject(userID, subject), r.config.DonationRateLimitPerMinute, time.Minute); err != nil {
		return nil, err
	}

	campaign, err := r.activeCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	donation := &domain.Donation{
		ID:             uuid.New(),
		CampaignID:     campaign.ID,
		UserID:         userID,
		TxRef:          r.newCardID(),
		Amount:         req.Amount,
		Currency:       domain.CurrencyUSD,
		DonorFirstName: strings.TrimSpace(req.DonorFirstName),
		DonorLastName:  strings.TrimSpace(req.DonorLastName),
		Email:          strings.TrimSpace(req.Email),
		IsAnonymous:    req.IsAnonymous,
		PaymentStatus:  domain.PaymentStatusPending,
		Gateway:        domain.GatewayStripe,
	}
	if err := r.repo.CreateDonation(ctx, donation); err != nil {
		return nil, err
	}

	checkoutReq := stripeclient.CheckoutRequest{
		TxRef:        donation.TxRef,
		CampaignID:   campaign.ID.String(),
		CampaignName: campaign.Title,
		Email:        donation.Email,
		Amount:       donation.Amount,
	}
	if userID != nil {
		checkoutReq.UserID = userID.String()
	}

	session, err := r.card.CreateCheckoutSession(checkoutReq)
	if err != nil {
		if errors.Is(err, stripeclient.ErrInvalidAmount) {
			return nil, ErrInvalidAmount
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	r.logger.Info("card checkout created", "tx_ref", donation.TxRef, "campaign_id", campaign.ID, "session_id", session.ID)
	return &domain.Checkout{CheckoutURL: session.URL, TxRef: donation.TxRef, SessionID: session.ID}, nil
}

// VerifyRegional re-reads a regional transaction from the gateway and finalizes the
// donation when the gateway reports a successful ETB payment covering the pledge.
func (r *Reconciler) VerifyRegional(ctx context.Context, txRef string) (*domain.FinalizeResult, error) {
	donation, err := r.repo.GetDonationByTxRef(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if donation.PaymentStatus != domain.PaymentStatusPending {
		return &domain.FinalizeResult{Applied: false, Donation: donation}, nil
	}
	if r.regional == nil {
		return nil, ErrUnsupportedGateway
	}

	resp, err := r.regional.Verify(ctx, txRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	if !resp.Succeeded() {
		r.logger.Info("regional payment not confirmed", "tx_ref", txRef, "status", resp.Data.Status)
		return nil, ErrPaymentNotConfirmed
	}
	if !strings.EqualFold(resp.Data.Currency, string(domain.CurrencyETB)) || resp.Data.Amount.LessThan(donation.Amount) {
		r.logger.Warn("regional payment does not match donation",
			"tx_ref", txRef,
			"currency", resp.Data.Currency,
			"amount", resp.Data.Amount.String(),
			"expected", donation.Amount.String(),
		)
		return nil, ErrPaymentNotConfirmed
	}

	return r.Finalize(ctx, txRef)
}

// Finalize settles a confirmed donation exactly once. A donation that already left
// PENDING is reported with Applied=false and nothing is written.
func (r *Reconciler) Finalize(ctx context.Context, txRef string) (*domain.FinalizeResult, error) {
	donation, err := r.repo.GetDonationByTxRef(ctx, txRef)
	if err != nil {
		return nil, err
	}
	if donation.PaymentStatus != domain.PaymentStatusPending {
		return r.noChange(ctx, donation), nil
	}

	campaign, err := r.repo.GetCampaignByID(ctx, donation.CampaignID)
	if err != nil {
		return nil, err
	}
	// A rate is read only when the credited ledger mixes currencies, and before any write
	// so a missing snapshot leaves the donation PENDING.
	etbPerUSD := decimal.Zero
	if domain.NeedsConversion(campaign.Raised.Credit(donation.Currency, donation.Amount), campaign.GoalCurrency) {
		if etbPerUSD, err = r.rates.CurrentRate(ctx); err != nil {
			return nil, err
		}
	}

	verified, campaign, err := r.repo.VerifyDonationAndCredit(ctx, txRef)
	if err != nil {
		if errors.Is(err, store.ErrDonationAlreadyProcessed) {
			return r.noChange(ctx, donation), nil
		}
		return nil, err
	}
	r.logger.Info("donation verified",
		"tx_ref", txRef,
		"campaign_id", campaign.ID,
		"amount", verified.Amount.String(),
		"currency", verified.Currency,
	)
	r.events.donationSettled(ctx, *verified)

	result := &domain.FinalizeResult{Applied: true, Donation: verified, Campaign: campaign}
	if err := r.applyGoal(ctx, result, etbPerUSD); err != nil {
		return nil, err
	}
	return result, nil
}

// noChange reports a duplicate confirmation. The goal check runs again so a closure
// that failed after an earlier credit is repaired.
func (r *Reconciler) noChange(ctx context.Context, donation *domain.Donation) *domain.FinalizeResult {
	result := &domain.FinalizeResult{Applied: false, Donation: donation}
	if donation.PaymentStatus != domain.PaymentStatusVerified {
		return result
	}
	campaign, err := r.repo.GetCampaignByID(ctx, donation.CampaignID)
	if err != nil {
		r.logger.Warn("failed to load campaign for duplicate confirmation", "tx_ref", donation.TxRef, "error", err)
		return result
	}
	result.Campaign = campaign
	if err := r.applyGoal(ctx, result, decimal.Zero); err != nil {
		r.logger.Warn("goal check failed for duplicate confirmation", "tx_ref", donation.TxRef, "error", err)
	}
	return result
}

// applyGoal reports progress and closes the campaign once its goal is met. A zero
// etbPerUSD means no rate was loaded; one is read if the ledger turns out to need it.
func (r *Reconciler) applyGoal(ctx context.Context, result *domain.FinalizeResult, etbPerUSD decimal.Decimal) error {
	campaign := result.Campaign
	if !etbPerUSD.IsPositive() && domain.NeedsConversion(campaign.Raised, campaign.GoalCurrency) {
		rate, err := r.rates.CurrentRate(ctx)
		if err != nil {
			return err
		}
		etbPerUSD = rate
	}
	reached, total, err := campaign.GoalReached(etbPerUSD)
	if err != nil {
		return err
	}
	result.ProgressIn = campaign.GoalCurrency
	result.Progress = total.StringFixed(2)
	result.GoalMet = reached
	if !reached || campaign.Status.IsTerminal() {
		return nil
	}

	closed, _, err := r.lifecycle.CloseForGoal(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if closed != nil {
		result.Campaign = closed
	}
	return nil
}

// HandleCardEvent applies a verified card gateway event. Unknown event types and
// references are acknowledged without effect and reported as nil.
func (r *Reconciler) HandleCardEvent(ctx context.Context, event *stripeclient.WebhookEvent) (*domain.FinalizeResult, error) {
	if event == nil || event.TxRef == "" {
		return nil, nil
	}

	var (
		result *domain.FinalizeResult
		err    error
	)
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		if event.PaymentStatus != string(stripe.CheckoutSessionPaymentStatusPaid) {
			r.logger.Info("checkout completed without payment", "tx_ref", event.TxRef, "payment_status", event.PaymentStatus)
			return nil, nil
		}
		result, err = r.finalizeCard(ctx, event)
	case stripe.EventTypePaymentIntentSucceeded:
		result, err = r.finalizeCard(ctx, event)
	case stripe.EventTypePaymentIntentPaymentFailed:
		result, err = r.markFailed(ctx, event.TxRef, event.FailureMessage)
	default:
		return nil, nil
	}

	if errors.Is(err, store.ErrDonationNotFound) {
		r.logger.Warn("card event for unknown donation", "tx_ref", event.TxRef, "event_type", event.Type)
		return nil, nil
	}
	return result, err
}

// finalizeCard settles a card payment once the gateway's amount and currency cover the pledge.
func (r *Reconciler) finalizeCard(ctx context.Context, event *stripeclient.WebhookEvent) (*domain.FinalizeResult, error) {
	donation, err := r.repo.GetDonationByTxRef(ctx, event.TxRef)
	if err != nil {
		return nil, err
	}
	if donation.PaymentStatus != domain.PaymentStatusPending {
		return r.noChange(ctx, donation), nil
	}
	if !strings.EqualFold(event.Currency, string(domain.CurrencyUSD)) || event.Amount.LessThan(donation.Amount) {
		r.logger.Warn("card payment does not match donation",
			"tx_ref", event.TxRef,
			"event_type", event.Type,
			"currency", event.Currency,
			"amount", event.Amount.String(),
			"expected", donation.Amount.String(),
		)
		return nil, ErrPaymentNotConfirmed
	}
	return r.Finalize(ctx, event.TxRef)
}

func (r *Reconciler) markFailed(ctx context.Context, txRef, reason string) (*domain.FinalizeResult, error) {
	failed, err := r.repo.MarkDonationFailed(ctx, txRef, reason)
	if err != nil {
		if errors.Is(err, store.ErrDonationAlreadyProcessed) {
			return &domain.FinalizeResult{Applied: false}, nil
		}
		return nil, err
	}
	r.logger.Info("donation failed", "tx_ref", txRef, "reason", reason)
	r.events.donationSettled(ctx, *failed)
	return &domain.FinalizeResult{Applied: true, Donation: failed}, nil
}

// ListCampaignDonations returns the VERIFIED donations of a campaign with anonymous
// donors masked.
func (r *Reconciler) ListCampaignDonations(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, error) {
	if _, err := r.lifecycle.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	donations, err := r.repo.ListVerifiedDonationsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Donation, 0, len(donations))
	for _, d := range donations {
		out = append(out, d.Public())
	}
	return out, nil
}

// ListUserDonations returns the caller's own VERIFIED donations, unmasked.
func (r *Reconciler) ListUserDonations(ctx context.Context, userID uuid.UUID) ([]domain.Donation, error) {
	donations, err := r.repo.ListVerifiedDonationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if donations == nil {
		donations = []domain.Donation{}
	}
	return donations, nil
}
