package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kaleabSolomon/sewlesew-backend/internal/app"
	"github.com/kaleabSolomon/sewlesew-backend/internal/store"
)

type envelope struct {
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func respondWithJSON(w http.ResponseWriter, code int, message string, payload interface{}) {
	status := "success"
	if code >= http.StatusBadRequest {
		status = "error"
	}
	response, err := json.Marshal(envelope{Status: status, Message: message, Data: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, message, nil)
}

// respondWithDomainError maps service errors onto HTTP statuses.
func respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var limitErr *app.RateLimitError
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &limitErr):
		w.Header().Set("Retry-After", strconv.Itoa(limitErr.RetryAfterSeconds))
		respondWithError(w, http.StatusTooManyRequests, limitErr.Error())
	case errors.As(err, &validationErrs):
		respondWithError(w, http.StatusBadRequest, validationErrs.Error())
	case errors.Is(err, store.ErrCampaignNotFound),
		errors.Is(err, store.ErrDonationNotFound),
		errors.Is(err, store.ErrContactPhoneNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrNotCampaignOwner):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrCodeNotSent),
		errors.Is(err, app.ErrInvalidCode),
		errors.Is(err, app.ErrCodeExpired):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrCampaignNotActive),
		errors.Is(err, app.ErrInvalidTransition),
		errors.Is(err, app.ErrCloseNotVerified),
		errors.Is(err, app.ErrPaymentNotConfirmed),
		errors.Is(err, store.ErrCampaignStatusConflict),
		errors.Is(err, store.ErrDuplicateTxRef):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrGatewayFailure),
		errors.Is(err, app.ErrSMSFailure),
		errors.Is(err, app.ErrRateRefreshFailed):
		respondWithError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, app.ErrUnsupportedGateway):
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("level=error component=api method=%s path=%s err=%v", r.Method, r.URL.Path, err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}
