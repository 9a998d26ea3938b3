package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/chapaclient"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/stripeclient"
)

func (h *Handler) handleDonate(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.donate(w, r, &principal.ID)
}

func (h *Handler) handleGuestDonate(w http.ResponseWriter, r *http.Request) {
	h.donate(w, r, nil)
}

func (h *Handler) donate(w http.ResponseWriter, r *http.Request, userID *uuid.UUID) {
	campaignID, ok := uuidParam(r, "campaignId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	var req domain.CreateDonationRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		respondWithRequestError(w, r, err)
		return
	}
	medium := domain.ParseMedium(strings.ToLower(r.URL.Query().Get("medium")))

	checkout, err := h.donations.Donate(r.Context(), campaignID, req, medium, userID, clientSubject(r))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, "Donation initialized successfully.", checkout)
}

func (h *Handler) handleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCheckoutSessionRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		respondWithRequestError(w, r, err)
		return
	}

	var userID *uuid.UUID
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		userID = &principal.ID
	}

	checkout, err := h.donations.CreateCardCheckout(r.Context(), req, userID, clientSubject(r))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, "Checkout session created successfully.", checkout)
}

func (h *Handler) handleVerifyDonation(w http.ResponseWriter, r *http.Request) {
	txRef := strings.TrimSpace(chi.URLParam(r, "txRef"))
	if txRef == "" {
		respondWithError(w, http.StatusBadRequest, "transaction reference is required")
		return
	}

	result, err := h.donations.VerifyRegional(r.Context(), txRef)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, finalizeMessage(result), result)
}

func (h *Handler) handleListMyDonations(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	donations, err := h.donations.ListUserDonations(r.Context(), principal.ID)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Donations fetched successfully.", donations)
}

func (h *Handler) handleListCampaignDonations(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := uuidParam(r, "campaignId")
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	donations, err := h.donations.ListCampaignDonations(r.Context(), campaignID)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, "Donations fetched successfully.", donations)
}

func finalizeMessage(result *domain.FinalizeResult) string {
	if result == nil || !result.Applied {
		return "no change"
	}
	return "Donation verified successfully."
}

// --- webhooks ---

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=warn component=api op=read_webhook_body path=%s err=%v", r.URL.Path, err)
		respondWithError(w, http.StatusBadRequest, "Cannot read request body")
		return nil, false
	}
	return body, true
}

// handleRegionalWebhook settles a regional gateway payment. The signature covers the raw
// body; only tx_ref is taken from the payload and the outcome is re-read from the gateway.
func (h *Handler) handleRegionalWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}

	if h.regionalSig == nil || !h.regionalSig.VerifyWebhookSignature(body, r.Header.Get(chapaclient.SignatureHeader)) {
		log.Printf("level=warn component=api op=regional_webhook msg=\"invalid signature\" request_id=%s", r.Header.Get("X-Request-Id"))
		respondWithError(w, http.StatusBadRequest, "Invalid Chapa signature")
		return
	}

	var payload domain.VerifyDonationRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		respondWithDomainError(w, r, err)
		return
	}

	result, err := h.donations.VerifyRegional(r.Context(), payload.TxRef)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, finalizeMessage(result), result)
}

// handleCardWebhook settles card gateway events. Events that carry no donation are
// acknowledged so the gateway stops retrying them.
func (h *Handler) handleCardWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}
	if h.cardHooks == nil {
		respondWithError(w, http.StatusBadRequest, "Webhook signature verification failed")
		return
	}

	event, err := h.cardHooks.ParseWebhook(body, r.Header.Get(stripeclient.SignatureHeader))
	if err != nil {
		if errors.Is(err, stripeclient.ErrInvalidSignature) {
			log.Printf("level=warn component=api op=card_webhook msg=\"invalid signature\" err=%v", err)
			respondWithError(w, http.StatusBadRequest, "Webhook signature verification failed")
			return
		}
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.donations.HandleCardEvent(r.Context(), event)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, finalizeMessage(result), map[string]interface{}{
		"received": true,
		"type":     event.Type,
		"result":   result,
	})
}
