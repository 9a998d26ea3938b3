/**
 * @description
 * HTTP handlers for the campaign-service: campaign lifecycle, donations, gateway
 * webhooks, the currency snapshot and manual triggers for background tasks.
 *
 * @dependencies
 * - github.com/go-playground/validator/v10: Request body validation.
 * - internal/app: Lifecycle, reconciliation and rate cache services.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kaleabSolomon/sewlesew-backend/internal/app"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/stripeclient"
)

const maxWebhookBodyBytes = 1 << 20

// CampaignService is the campaign lifecycle surface. Implemented by app.Lifecycle.
type CampaignService interface {
	GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, opts domain.CampaignListOptions) ([]domain.Campaign, error)
	UpdateStatus(ctx context.Context, campaignID uuid.UUID, target domain.CampaignStatus) (*domain.Campaign, error)
	SendCloseCode(ctx context.Context, campaignID uuid.UUID, actor app.Actor) error
	VerifyCloseCode(ctx context.Context, campaignID uuid.UUID, actor app.Actor, code string) error
	Cancel(ctx context.Context, campaignID uuid.UUID, actor app.Actor, reason string) (*domain.Campaign, *domain.ClosedCampaign, error)
	SoftDelete(ctx context.Context, campaignID uuid.UUID, actor app.Actor) error
	SweepDeadlines(ctx context.Context) (app.SweepResult, error)
}

// DonationService is the donation reconciliation surface. Implemented by app.Reconciler.
type DonationService interface {
	Donate(ctx context.Context, campaignID uuid.UUID, req domain.CreateDonationRequest, medium domain.Medium, userID *uuid.UUID, subject string) (*domain.Checkout, error)
	CreateCardCheckout(ctx context.Context, req domain.CreateCheckoutSessionRequest, userID *uuid.UUID, subject string) (*domain.Checkout, error)
	VerifyRegional(ctx context.Context, txRef string) (*domain.FinalizeResult, error)
	HandleCardEvent(ctx context.Context, event *stripeclient.WebhookEvent) (*domain.FinalizeResult, error)
	ListCampaignDonations(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, error)
	ListUserDonations(ctx context.Context, userID uuid.UUID) ([]domain.Donation, error)
}

// RateService is the currency snapshot surface. Implemented by app.RateCache.
type RateService interface {
	Refresh(ctx context.Context) (*domain.CurrencyRate, error)
	Current(ctx context.Context) (*domain.CurrencyRate, error)
}

// RegionalSignatureVerifier checks regional gateway webhook signatures.
type RegionalSignatureVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) bool
}

// CardWebhookParser verifies and decodes card gateway webhooks.
type CardWebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (*stripeclient.WebhookEvent, error)
}

// Handler holds the application services that handlers interact with.
type Handler struct {
	campaigns   CampaignService
	donations   DonationService
	rates       RateService
	regionalSig RegionalSignatureVerifier
	cardHooks   CardWebhookParser
	validate    *validator.Validate
}

// NewHandler creates a new Handler. Either webhook dependency may be nil, in which case
// the matching webhook rejects every request.
func NewHandler(campaigns CampaignService, donations DonationService, rates RateService, regionalSig RegionalSignatureVerifier, cardHooks CardWebhookParser) *Handler {
	return &Handler{
		campaigns:   campaigns,
		donations:   donations,
		rates:       rates,
		regionalSig: regionalSig,
		cardHooks:   cardHooks,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) decodeAndValidate(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidBody
	}
	return h.validate.Struct(dst)
}

var errInvalidBody = errors.New("invalid request body")

func respondWithRequestError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errInvalidBody) {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithDomainError(w, r, err)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

// clientSubject keys guest rate limits by the caller's address.
func clientSubject(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- campaigns ---

func (h *Handler) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := domain.CampaignListOptions{Category: strings.TrimSpace(q.Get("category"))}
	if raw := q.Get("status"); raw != "" {
		status, err := domain.ParseCampaignStatus(strings.ToUpper(raw))
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Status = status
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, _ := strconv.Atoi(q.Get("page"))
	if limit <= 0 {
		limit = 20
	}
	if page > 1 {
		opts.Offset = (page - 1) * limit
	}
	opts.Limit = limit

	campaigns, err := h.campaigns.ListCampaigns(r.Context(), opts)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Campaigns fetched successfully.", campaigns)
}

func (h *Handler) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	campaign, err := h.campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Campaign fetched successfully.", campaign)
}

func (h *Handler) handleUpdateCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	var req domain.UpdateCampaignStatusRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		respondWithRequestError(w, r, err)
		return
	}

	campaign, err := h.campaigns.UpdateStatus(r.Context(), id, domain.CampaignStatus(req.Status))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Campaign status updated successfully.", campaign)
}

func (h *Handler) handleSendCloseCode(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	if err := h.campaigns.SendCloseCode(r.Context(), id, principal.Actor()); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Verification code sent successfully.", nil)
}

func (h *Handler) handleVerifyCloseCode(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	var req domain.VerifyCodeRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		respondWithRequestError(w, r, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	if err := h.campaigns.VerifyCloseCode(r.Context(), id, principal.Actor(), req.Code); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Verification successful.", nil)
}

func (h *Handler) handleCloseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	var req domain.CloseCampaignRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		respondWithRequestError(w, r, err)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	campaign, record, err := h.campaigns.Cancel(r.Context(), id, principal.Actor(), strings.TrimSpace(req.Reason))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Campaign closed successfully.", map[string]interface{}{
		"campaign": campaign,
		"closure":  record,
	})
}

func (h *Handler) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	principal, _ := PrincipalFromContext(r.Context())

	if err := h.campaigns.SoftDelete(r.Context(), id, principal.Actor()); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Campaign deleted successfully.", nil)
}

func (h *Handler) handleTriggerDeadlineSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.campaigns.SweepDeadlines(r.Context())
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Campaign closure check triggered manually.", result)
}

// --- currency ---

func (h *Handler) handleGetCurrencyRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.rates.Current(r.Context())
	if err != nil {
		if errors.Is(err, app.ErrRateUnavailable) {
			respondWithError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Currency rate fetched successfully.", rate)
}

func (h *Handler) handleRefreshCurrencyRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.rates.Refresh(r.Context())
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Currency rates updated successfully.", rate)
}
