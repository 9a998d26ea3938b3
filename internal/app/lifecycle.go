/**
 * @description
 * Campaign lifecycle management. Lifecycle is the only component that writes campaign
 * status: reviewer decisions, goal and deadline closure, owner cancellation with the SMS
 * verification code flow, and soft deletion all go through it. Each write checks the
 * transition table in internal/domain and is applied with a status compare-and-set, so
 * a concurrent writer turns into a conflict instead of a lost update.
 *
 * @dependencies
 * - golang.org/x/crypto/bcrypt: Verification codes are stored hashed.
 * - internal/store: Persistence.
 */
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaleabSolomon/sewlesew-backend/internal/config"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
	"github.com/kaleabSolomon/sewlesew-backend/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	closeCodeMessage        = "This is Your Verification code. %d Use this to confirm that you want to close your campaign."
	closureReasonByReviewer = "Closed by reviewer"
)

// SMSSender delivers text messages. Implemented by pkg/smsclient.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// Actor is the authenticated caller acting on a campaign.
type Actor struct {
	Kind       domain.OwnerKind
	ID         uuid.UUID
	Privileged bool
}

// SweepResult summarizes one deadline sweep.
type SweepResult struct {
	Closed         int `json:"closed"`
	RecordsCreated int `json:"recordsCreated"`
}

// Lifecycle owns every campaign status change.
type Lifecycle struct {
	repo    store.Repository
	sms     SMSSender
	limiter RateLimiter
	events  eventEmitter
	logger  *slog.Logger
	config  config.Config
	now     func() time.Time
	newCode func() (int, error)
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle(repo store.Repository, sms SMSSender, limiter RateLimiter, publisher EventPublisher, logger *slog.Logger, cfg config.Config) *Lifecycle {
	return &Lifecycle{
		repo:    repo,
		sms:     sms,
		limiter: limiter,
		events:  eventEmitter{publisher: publisher, logger: logger},
		logger:  logger,
		config:  cfg,
		now:     time.Now,
		newCode: generateCloseCode,
	}
}

// generateCloseCode returns a uniformly random six digit code.
func generateCloseCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 100000, nil
}

func (l *Lifecycle) closeCodeTTL() time.Duration {
	if ttl := l.config.CloseCodeTTL(); ttl > 0 {
		return ttl
	}
	return 15 * time.Minute
}

// GetCampaign returns a campaign unless it was deleted.
func (l *Lifecycle) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	campaign, err := l.repo.GetCampaignByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status == domain.CampaignStatusDeleted {
		return nil, store.ErrCampaignNotFound
	}
	return campaign, nil
}

// ListCampaigns returns the public listing. Deleted campaigns are never listed.
func (l *Lifecycle) ListCampaigns(ctx context.Context, opts domain.CampaignListOptions) ([]domain.Campaign, error) {
	if opts.Status == domain.CampaignStatusDeleted {
		return []domain.Campaign{}, nil
	}
	return l.repo.ListCampaigns(ctx, opts)
}

func authorize(campaign *domain.Campaign, actor Actor) error {
	if actor.Privileged || campaign.Owner.Matches(actor.Kind, actor.ID) {
		return nil
	}
	return ErrNotCampaignOwner
}

func transitionError(from, to domain.CampaignStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// UpdateStatus applies a reviewer decision.
func (l *Lifecycle) UpdateStatus(ctx context.Context, campaignID uuid.UUID, target domain.CampaignStatus) (*domain.Campaign, error) {
	campaign, err := l.repo.GetCampaignByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	from := campaign.Status
	// DELETED is reachable only through the owner's SoftDelete.
	if target == domain.CampaignStatusDeleted || !from.CanTransitionTo(target) {
		return nil, transitionError(from, target)
	}

	var updated *domain.Campaign
	reason := ""
	switch target {
	case domain.CampaignStatusClosed, domain.CampaignStatusCanceled:
		reason = closureReasonByReviewer
		var transitioned bool
		updated, transitioned, err = l.repo.CloseActiveCampaign(ctx, campaignID, target, reason, false)
		if err == nil && !transitioned {
			err = store.ErrCampaignStatusConflict
		}
	default:
		updated, err = l.repo.TransitionCampaignStatus(ctx, campaignID, []domain.CampaignStatus{from}, target)
	}
	if err != nil {
		if errors.Is(err, store.ErrCampaignStatusConflict) {
			return nil, transitionError(from, target)
		}
		return nil, err
	}

	l.logger.Info("campaign status updated", "campaign_id", campaignID, "from", from, "to", target)
	l.events.campaignStatusChanged(ctx, *updated, from, reason)
	return updated, nil
}

// CloseForGoal closes an ACTIVE campaign whose goal has been reached. Repeated calls, and
// calls for a campaign that already left ACTIVE, are no-ops.
func (l *Lifecycle) CloseForGoal(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, bool, error) {
	campaign, transitioned, err := l.repo.CloseActiveCampaign(ctx, campaignID, domain.CampaignStatusClosed, domain.ClosureReasonGoalMet, true)
	if err != nil {
		if errors.Is(err, store.ErrCampaignStatusConflict) {
			l.logger.Info("goal reached on a campaign that is no longer active", "campaign_id", campaignID)
			return campaign, false, nil
		}
		return nil, false, err
	}
	if transitioned {
		l.logger.Info("campaign closed because its goal was met", "campaign_id", campaignID)
		l.events.campaignStatusChanged(ctx, *campaign, domain.CampaignStatusActive, domain.ClosureReasonGoalMet)
	}
	return campaign, transitioned, nil
}

// SweepDeadlines closes every ACTIVE campaign whose deadline has passed and backfills
// missing closure records. Running it twice in a row is a no-op the second time.
func (l *Lifecycle) SweepDeadlines(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := l.now()

	closed, err := l.repo.CloseCampaignsPastDeadline(ctx, now)
	if err != nil {
		return result, fmt.Errorf("close campaigns past deadline: %w", err)
	}
	result.Closed = len(closed)
	for _, id := range closed {
		l.events.campaignStatusChanged(ctx, domain.Campaign{ID: id, Status: domain.CampaignStatusClosed}, domain.CampaignStatusActive, domain.ClosureReasonDeadlineMet)
	}

	missing, err := l.repo.ListClosedCampaignsMissingClosure(ctx, now)
	if err != nil {
		return result, fmt.Errorf("list closed campaigns missing closure: %w", err)
	}
	for _, id := range missing {
		created, err := l.repo.InsertClosureRecord(ctx, id, domain.ClosureReasonDeadlineMet, false)
		if err != nil {
			l.logger.Error("failed to record campaign closure", "campaign_id", id, "error", err)
			continue
		}
		if created {
			result.RecordsCreated++
		}
	}
	return result, nil
}

// SendCloseCode texts a fresh verification code to the campaign's contact phone.
func (l *Lifecycle) SendCloseCode(ctx context.Context, campaignID uuid.UUID, actor Actor) error {
	campaign, err := l.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if err := authorize(campaign, actor); err != nil {
		return err
	}
	if campaign.Status != domain.CampaignStatusActive {
		return ErrCampaignNotActive
	}
	if err := enforceRateLimit(ctx, l.limiter, l.logger, ScopeCloseCode, campaignID.String(), l.config.CloseCodeSendLimitPerHour, time.Hour); err != nil {
		return err
	}

	phone, err := l.repo.GetCampaignContactPhone(ctx, campaignID)
	if err != nil {
		return err
	}

	code, err := l.newCode()
	if err != nil {
		return fmt.Errorf("generate close code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(strconv.Itoa(code)), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash close code: %w", err)
	}
	if err := l.repo.SetCloseCode(ctx, campaignID, string(hash), l.now().Add(l.closeCodeTTL())); err != nil {
		return err
	}

	if l.sms == nil {
		return fmt.Errorf("%w: no sms sender configured", ErrSMSFailure)
	}
	if err := l.sms.Send(ctx, phone, fmt.Sprintf(closeCodeMessage, code)); err != nil {
		l.logger.Error("failed to send close code sms", "campaign_id", campaignID, "error", err)
		return fmt.Errorf("%w: %v", ErrSMSFailure, err)
	}

	l.logger.Info("close verification code sent", "campaign_id", campaignID)
	return nil
}

// VerifyCloseCode checks the code typed by the owner and consumes it on success.
// Status is not changed here.
func (l *Lifecycle) VerifyCloseCode(ctx context.Context, campaignID uuid.UUID, actor Actor, code string) error {
	campaign, err := l.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if err := authorize(campaign, actor); err != nil {
		return err
	}
	if campaign.CloseCodeHash == nil || campaign.CloseCodeExpiresAt == nil {
		return ErrCodeNotSent
	}

	submitted, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return ErrInvalidCode
	}
	if bcrypt.CompareHashAndPassword([]byte(*campaign.CloseCodeHash), []byte(strconv.Itoa(submitted))) != nil {
		return ErrInvalidCode
	}

	now := l.now()
	if campaign.CloseCodeExpiresAt.Before(now) {
		return ErrCodeExpired
	}

	if err := l.repo.ConsumeCloseCode(ctx, campaignID, now); err != nil {
		return err
	}
	l.logger.Info("close verification code confirmed", "campaign_id", campaignID)
	return nil
}

// Cancel closes an ACTIVE campaign at its owner's request.
func (l *Lifecycle) Cancel(ctx context.Context, campaignID uuid.UUID, actor Actor, reason string) (*domain.Campaign, *domain.ClosedCampaign, error) {
	campaign, err := l.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(campaign, actor); err != nil {
		return nil, nil, err
	}
	if campaign.Status != domain.CampaignStatusActive {
		return nil, nil, ErrCampaignNotActive
	}
	if l.config.RequireCloseVerification {
		verifiedAt := campaign.CloseCodeVerifiedAt
		if verifiedAt == nil || l.now().Sub(*verifiedAt) > l.closeCodeTTL() {
			return nil, nil, ErrCloseNotVerified
		}
	}

	updated, transitioned, err := l.repo.CloseActiveCampaign(ctx, campaignID, domain.CampaignStatusCanceled, reason, false)
	if err != nil {
		if errors.Is(err, store.ErrCampaignStatusConflict) {
			return nil, nil, ErrCampaignNotActive
		}
		return nil, nil, err
	}
	if !transitioned {
		return nil, nil, ErrCampaignNotActive
	}

	l.logger.Info("campaign canceled by owner", "campaign_id", campaignID)
	l.events.campaignStatusChanged(ctx, *updated, domain.CampaignStatusActive, reason)

	record, err := l.repo.GetClosureRecord(ctx, campaignID)
	if err != nil {
		l.logger.Warn("failed to load closure record", "campaign_id", campaignID, "error", err)
	}
	return updated, record, nil
}

// SoftDelete hides a campaign from every listing. Only the owner may delete.
func (l *Lifecycle) SoftDelete(ctx context.Context, campaignID uuid.UUID, actor Actor) error {
	campaign, err := l.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if !campaign.Owner.Matches(actor.Kind, actor.ID) {
		return ErrNotCampaignOwner
	}
	from := campaign.Status
	if !from.CanTransitionTo(domain.CampaignStatusDeleted) {
		return transitionError(from, domain.CampaignStatusDeleted)
	}

	updated, err := l.repo.TransitionCampaignStatus(ctx, campaignID, domain.SourcesFor(domain.CampaignStatusDeleted), domain.CampaignStatusDeleted)
	if err != nil {
		if errors.Is(err, store.ErrCampaignStatusConflict) {
			return transitionError(from, domain.CampaignStatusDeleted)
		}
		return err
	}

	l.logger.Info("campaign deleted by owner", "campaign_id", campaignID)
	l.events.campaignStatusChanged(ctx, *updated, from, "")
	return nil
}
