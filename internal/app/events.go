package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
)

// EventPublisher publishes domain events. Implemented by pkg/rabbitmq.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// eventEmitter publishes best-effort; a broker failure never fails the caller.
type eventEmitter struct {
	publisher EventPublisher
	logger    *slog.Logger
}

func (e eventEmitter) emit(ctx context.Context, routingKey string, body interface{}) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, routingKey, body); err != nil {
		e.logger.Warn("failed to publish event", "routing_key", routingKey, "error", err)
	}
}

func (e eventEmitter) campaignStatusChanged(ctx context.Context, campaign domain.Campaign, from domain.CampaignStatus, reason string) {
	e.emit(ctx, domain.CampaignStatusRoutingKey(campaign.Status), domain.CampaignStatusEvent{
		CampaignID: campaign.ID,
		From:       from,
		To:         campaign.Status,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
}

func (e eventEmitter) donationSettled(ctx context.Context, d domain.Donation) {
	key := domain.RoutingKeyDonationVerified
	if d.PaymentStatus == domain.PaymentStatusFailed {
		key = domain.RoutingKeyDonationFailed
	}
	e.emit(ctx, key, domain.DonationEvent{
		DonationID: d.ID,
		CampaignID: d.CampaignID,
		TxRef:      d.TxRef,
		Amount:     d.Amount,
		Currency:   d.Currency,
		Status:     d.PaymentStatus,
		Gateway:    d.Gateway,
		OccurredAt: time.Now().UTC(),
	})
}
