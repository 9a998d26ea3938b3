package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kaleabSolomon/sewlesew-backend/internal/app"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
	"github.com/kaleabSolomon/sewlesew-backend/internal/store"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/chapaclient"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/stripeclient"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
)

const (
	testAccessSecret   = "test-access-secret"
	testInternalKey    = "test-internal-key"
	testWebhookSecret  = "test-chapa-webhook-secret"
	testCampaignIDText = "6b1d3a52-6f3c-4c1e-9d1f-2b0e8f6a9c11"
)

type campaignServiceStub struct {
	sweepResult app.SweepResult
	lastActor   app.Actor
	lastStatus  domain.CampaignStatus
	lastReason  string
	getErr      error
	updateErr   error
	cancelErr   error
	deleteErr   error
	sweepCalled bool
}

func (s *campaignServiceStub) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &domain.Campaign{ID: campaignID, Status: domain.CampaignStatusActive}, nil
}

func (s *campaignServiceStub) ListCampaigns(ctx context.Context, opts domain.CampaignListOptions) ([]domain.Campaign, error) {
	return []domain.Campaign{}, nil
}

func (s *campaignServiceStub) UpdateStatus(ctx context.Context, campaignID uuid.UUID, target domain.CampaignStatus) (*domain.Campaign, error) {
	s.lastStatus = target
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &domain.Campaign{ID: campaignID, Status: target}, nil
}

func (s *campaignServiceStub) SendCloseCode(ctx context.Context, campaignID uuid.UUID, actor app.Actor) error {
	s.lastActor = actor
	return nil
}

func (s *campaignServiceStub) VerifyCloseCode(ctx context.Context, campaignID uuid.UUID, actor app.Actor, code string) error {
	s.lastActor = actor
	if code != "482913" {
		return app.ErrInvalidCode
	}
	return nil
}

func (s *campaignServiceStub) Cancel(ctx context.Context, campaignID uuid.UUID, actor app.Actor, reason string) (*domain.Campaign, *domain.ClosedCampaign, error) {
	s.lastActor = actor
	s.lastReason = reason
	if s.cancelErr != nil {
		return nil, nil, s.cancelErr
	}
	return &domain.Campaign{ID: campaignID, Status: domain.CampaignStatusCanceled},
		&domain.ClosedCampaign{CampaignID: campaignID, Reason: reason}, nil
}

func (s *campaignServiceStub) SoftDelete(ctx context.Context, campaignID uuid.UUID, actor app.Actor) error {
	s.lastActor = actor
	return s.deleteErr
}

func (s *campaignServiceStub) SweepDeadlines(ctx context.Context) (app.SweepResult, error) {
	s.sweepCalled = true
	return s.sweepResult, nil
}

type donationServiceStub struct {
	verifyCalls  int
	lastTxRef    string
	lastUserID   *uuid.UUID
	lastMedium   domain.Medium
	lastEvent    *stripeclient.WebhookEvent
	donateErr    error
	verifyResult *domain.FinalizeResult
}

func (s *donationServiceStub) Donate(ctx context.Context, campaignID uuid.UUID, req domain.CreateDonationRequest, medium domain.Medium, userID *uuid.UUID, subject string) (*domain.Checkout, error) {
	s.lastUserID = userID
	s.lastMedium = medium
	if s.donateErr != nil {
		return nil, s.donateErr
	}
	return &domain.Checkout{CheckoutURL: "https://checkout.example/abc", TxRef: "TX-abc"}, nil
}

func (s *donationServiceStub) CreateCardCheckout(ctx context.Context, req domain.CreateCheckoutSessionRequest, userID *uuid.UUID, subject string) (*domain.Checkout, error) {
	s.lastUserID = userID
	return &domain.Checkout{CheckoutURL: "https://checkout.stripe.example/cs", TxRef: "card-ref", SessionID: "cs_1"}, nil
}

func (s *donationServiceStub) VerifyRegional(ctx context.Context, txRef string) (*domain.FinalizeResult, error) {
	s.verifyCalls++
	s.lastTxRef = txRef
	if s.verifyResult != nil {
		return s.verifyResult, nil
	}
	return &domain.FinalizeResult{Applied: true}, nil
}

func (s *donationServiceStub) HandleCardEvent(ctx context.Context, event *stripeclient.WebhookEvent) (*domain.FinalizeResult, error) {
	s.lastEvent = event
	return &domain.FinalizeResult{Applied: true}, nil
}

func (s *donationServiceStub) ListCampaignDonations(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, error) {
	return []domain.Donation{}, nil
}

func (s *donationServiceStub) ListUserDonations(ctx context.Context, userID uuid.UUID) ([]domain.Donation, error) {
	return []domain.Donation{}, nil
}

type rateServiceStub struct {
	rate *domain.CurrencyRate
}

func (s *rateServiceStub) Refresh(ctx context.Context) (*domain.CurrencyRate, error) {
	return &domain.CurrencyRate{ETBValue: decimal.NewFromInt(57), USDValue: decimal.NewFromInt(1)}, nil
}

func (s *rateServiceStub) Current(ctx context.Context) (*domain.CurrencyRate, error) {
	if s.rate == nil {
		return nil, app.ErrRateUnavailable
	}
	return s.rate, nil
}

type cardParserStub struct {
	event *stripeclient.WebhookEvent
	err   error
}

func (s *cardParserStub) ParseWebhook(payload []byte, signatureHeader string) (*stripeclient.WebhookEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.event, nil
}

type testServer struct {
	campaigns *campaignServiceStub
	donations *donationServiceStub
	rates     *rateServiceStub
	card      *cardParserStub
	router    http.Handler
}

func newTestServer() *testServer {
	s := &testServer{
		campaigns: &campaignServiceStub{},
		donations: &donationServiceStub{},
		rates:     &rateServiceStub{},
		card:      &cardParserStub{},
	}
	regional := chapaclient.NewClient("http://chapa.invalid", "sk", testWebhookSecret)
	h := NewHandler(s.campaigns, s.donations, s.rates, regional, s.card)
	s.router = NewRouter(h, RouterConfig{
		AccessTokenSecret: testAccessSecret,
		InternalAPIKey:    testInternalKey,
		RequestTimeout:    5 * time.Second,
	})
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func accessToken(t *testing.T, sub uuid.UUID, role string) map[string]string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        sub.String(),
		"role":       role,
		"identifier": "user@example.com",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testAccessSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + signed}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func chapaSignature(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRegionalWebhook_RejectsInvalidSignatureWithoutSideEffects(t *testing.T) {
	s := newTestServer()
	body := []byte(`{"tx_ref":"TX-1","status":"success"}`)

	rec := s.do(t, http.MethodPost, "/api/donation/verify", body, map[string]string{chapaclient.SignatureHeader: "deadbeef"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if s.donations.verifyCalls != 0 {
		t.Fatal("donation service must not be called for an invalid signature")
	}
}

func TestRegionalWebhook_AcceptsSignedPayload(t *testing.T) {
	s := newTestServer()
	body := []byte(`{"tx_ref":"TX-1","status":"success"}`)

	rec := s.do(t, http.MethodPost, "/api/donation/verify", body, map[string]string{chapaclient.SignatureHeader: chapaSignature(body)})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.donations.lastTxRef != "TX-1" {
		t.Fatalf("expected TX-1 to be verified, got %q", s.donations.lastTxRef)
	}
}

func TestRegionalWebhook_DuplicateReportsNoChange(t *testing.T) {
	s := newTestServer()
	s.donations.verifyResult = &domain.FinalizeResult{Applied: false}
	body := []byte(`{"tx_ref":"TX-1"}`)

	rec := s.do(t, http.MethodPost, "/api/donation/verify", body, map[string]string{chapaclient.SignatureHeader: chapaSignature(body)})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Message != "no change" {
		t.Fatalf("expected no change message, got %q", env.Message)
	}
}

func TestCardWebhook(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		s := newTestServer()
		s.card.err = stripeclient.ErrInvalidSignature
		rec := s.do(t, http.MethodPost, "/api/stripe/webhook", []byte(`{}`), map[string]string{stripeclient.SignatureHeader: "t=1,v1=bad"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if s.donations.lastEvent != nil {
			t.Fatal("donation service must not be called for an invalid signature")
		}
	})

	t.Run("verified event", func(t *testing.T) {
		s := newTestServer()
		s.card.event = &stripeclient.WebhookEvent{Type: stripe.EventTypePaymentIntentSucceeded, TxRef: "card-ref"}
		rec := s.do(t, http.MethodPost, "/api/stripe/webhook", []byte(`{}`), map[string]string{stripeclient.SignatureHeader: "t=1,v1=good"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if s.donations.lastEvent == nil || s.donations.lastEvent.TxRef != "card-ref" {
			t.Fatalf("unexpected event: %+v", s.donations.lastEvent)
		}
	})
}

func TestDonate_AuthenticatedAndGuest(t *testing.T) {
	s := newTestServer()
	body := []byte(`{"email":"abebe@example.com","amount":"100","donorFirstName":"Abebe","donorLastName":"Kebede"}`)
	userID := uuid.New()

	rec := s.do(t, http.MethodPost, "/api/donation/"+testCampaignIDText+"?medium=mobile", body, accessToken(t, userID, RoleUser))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.donations.lastUserID == nil || *s.donations.lastUserID != userID || s.donations.lastMedium != domain.MediumMobile {
		t.Fatalf("unexpected donate call: user=%v medium=%s", s.donations.lastUserID, s.donations.lastMedium)
	}

	rec = s.do(t, http.MethodPost, "/api/donation/guest/"+testCampaignIDText, body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if s.donations.lastUserID != nil || s.donations.lastMedium != domain.MediumWeb {
		t.Fatalf("unexpected guest donate call: user=%v medium=%s", s.donations.lastUserID, s.donations.lastMedium)
	}

	rec = s.do(t, http.MethodPost, "/api/donation/"+testCampaignIDText, body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestDonate_ValidationAndErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		donateErr error
		want      int
	}{
		{name: "missing email", body: `{"amount":"10","donorFirstName":"A","donorLastName":"B"}`, want: http.StatusBadRequest},
		{name: "malformed json", body: `{`, want: http.StatusBadRequest},
		{name: "campaign not found", body: `{"email":"a@b.co","amount":"10","donorFirstName":"A","donorLastName":"B"}`, donateErr: store.ErrCampaignNotFound, want: http.StatusNotFound},
		{name: "gateway failure", body: `{"email":"a@b.co","amount":"10","donorFirstName":"A","donorLastName":"B"}`, donateErr: app.ErrGatewayFailure, want: http.StatusBadGateway},
		{name: "rate limited", body: `{"email":"a@b.co","amount":"10","donorFirstName":"A","donorLastName":"B"}`, donateErr: &app.RateLimitError{Scope: app.ScopeDonationIntent, RetryAfterSeconds: 30}, want: http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			s.donations.donateErr = tt.donateErr
			rec := s.do(t, http.MethodPost, "/api/donation/guest/"+testCampaignIDText, []byte(tt.body), nil)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "30" {
				t.Fatalf("expected Retry-After 30, got %q", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestUpdateCampaignStatus_RequiresReviewer(t *testing.T) {
	s := newTestServer()
	body := []byte(`{"status":"ACTIVE"}`)
	path := "/api/campaign/" + testCampaignIDText + "/status"

	if rec := s.do(t, http.MethodPatch, path, body, accessToken(t, uuid.New(), RoleUser)); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for USER, got %d", rec.Code)
	}

	rec := s.do(t, http.MethodPatch, path, body, accessToken(t, uuid.New(), RoleCampaignReviewer))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for reviewer, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.campaigns.lastStatus != domain.CampaignStatusActive {
		t.Fatalf("expected ACTIVE, got %s", s.campaigns.lastStatus)
	}

	if rec := s.do(t, http.MethodPatch, path, []byte(`{"status":"ARCHIVED"}`), accessToken(t, uuid.New(), RoleCampaignReviewer)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
	s.campaigns.lastStatus = ""
	if rec := s.do(t, http.MethodPatch, path, []byte(`{"status":"DELETED"}`), accessToken(t, uuid.New(), RoleCampaignReviewer)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for DELETED, got %d", rec.Code)
	}
	if s.campaigns.lastStatus != "" {
		t.Fatalf("reviewer delete reached the service with %s", s.campaigns.lastStatus)
	}

	s.campaigns.updateErr = app.ErrInvalidTransition
	if rec := s.do(t, http.MethodPatch, path, body, accessToken(t, uuid.New(), RoleCampaignReviewer)); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for invalid transition, got %d", rec.Code)
	}
}

func TestCloseCampaign_UsesCallerAsActor(t *testing.T) {
	s := newTestServer()
	agentID := uuid.New()

	rec := s.do(t, http.MethodPatch, "/api/campaign/"+testCampaignIDText+"/close", []byte(`{"reason":"treatment funded"}`), accessToken(t, agentID, RoleCallCenterAgent))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if s.campaigns.lastActor.Kind != domain.OwnerKindAgent || s.campaigns.lastActor.ID != agentID || s.campaigns.lastActor.Privileged {
		t.Fatalf("unexpected actor: %+v", s.campaigns.lastActor)
	}
	if s.campaigns.lastReason != "treatment funded" {
		t.Fatalf("unexpected reason %q", s.campaigns.lastReason)
	}

	s.campaigns.cancelErr = app.ErrCampaignNotActive
	rec = s.do(t, http.MethodPatch, "/api/campaign/"+testCampaignIDText+"/close", []byte(`{"reason":"treatment funded"}`), accessToken(t, agentID, RoleCallCenterAgent))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestVerifyCode_InvalidCodeIsClientError(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodPost, "/api/campaign/"+testCampaignIDText+"/verify-code", []byte(`{"code":"000000"}`), accessToken(t, uuid.New(), RoleUser))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteCampaign_NonOwnerIsForbidden(t *testing.T) {
	s := newTestServer()
	s.campaigns.deleteErr = app.ErrNotCampaignOwner
	rec := s.do(t, http.MethodDelete, "/api/campaign/"+testCampaignIDText, nil, accessToken(t, uuid.New(), RoleUser))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestInternalTriggers_RequireAPIKey(t *testing.T) {
	s := newTestServer()
	s.campaigns.sweepResult = app.SweepResult{Closed: 2, RecordsCreated: 2}

	if rec := s.do(t, http.MethodPost, "/api/scheduler/close-campaigns", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if s.campaigns.sweepCalled {
		t.Fatal("sweep must not run without the internal key")
	}

	rec := s.do(t, http.MethodPost, "/api/scheduler/close-campaigns", nil, map[string]string{"X-Internal-API-Key": testInternalKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Message != "Campaign closure check triggered manually." {
		t.Fatalf("unexpected message %q", env.Message)
	}

	rec = s.do(t, http.MethodPost, "/api/currency/latest", nil, map[string]string{"X-Internal-API-Key": testInternalKey})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for rate refresh, got %d", rec.Code)
	}
}

func TestGetCurrencyRate_WithoutSnapshot(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodGet, "/api/currency/latest", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAccessToken_RejectsWrongSecret(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  uuid.NewString(),
		"role": RoleUser,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, _ := token.SignedString([]byte("another-secret"))

	s := newTestServer()
	rec := s.do(t, http.MethodGet, "/api/donation/me", nil, map[string]string{"Authorization": "Bearer " + signed})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
