package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
	"github.com/kaleabSolomon/sewlesew-backend/internal/store"
	"github.com/shopspring/decimal"
)

// memRepo mirrors the guard semantics of the PostgreSQL repository in memory.
type memRepo struct {
	store.Repository

	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.Campaign
	donations map[string]*domain.Donation
	closures  map[uuid.UUID]domain.ClosedCampaign
	phones    map[uuid.UUID]string
	rate      *domain.CurrencyRate

	creditCalls  int
	replaceErr   error
	closeErr     error
	insertErrFor map[uuid.UUID]error
}

func newMemRepo() *memRepo {
	return &memRepo{
		campaigns:    map[uuid.UUID]*domain.Campaign{},
		donations:    map[string]*domain.Donation{},
		closures:     map[uuid.UUID]domain.ClosedCampaign{},
		phones:       map[uuid.UUID]string{},
		insertErrFor: map[uuid.UUID]error{},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (r *memRepo) addCampaign(c domain.Campaign) *domain.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Raised == nil {
		c.Raised = domain.NewLedger()
	}
	if c.Owner.ID == uuid.Nil {
		c.Owner = domain.UserOwner(uuid.New())
	}
	r.campaigns[c.ID] = &c
	return &c
}

func (r *memRepo) setRate(etb, usd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rate = &domain.CurrencyRate{ID: uuid.New(), ETBValue: dec(etb), USDValue: dec(usd), CreatedAt: time.Now()}
}

func (r *memRepo) campaign(id uuid.UUID) domain.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.campaigns[id]
}

func (r *memRepo) closureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closures)
}

func (r *memRepo) GetCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return nil, store.ErrCampaignNotFound
	}
	out := *c
	return &out, nil
}

func (r *memRepo) ListCampaigns(ctx context.Context, opts domain.CampaignListOptions) ([]domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := opts.Status
	if status == "" {
		status = domain.CampaignStatusActive
	}
	out := []domain.Campaign{}
	for _, c := range r.campaigns {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memRepo) GetCampaignContactPhone(ctx context.Context, campaignID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	phone, ok := r.phones[campaignID]
	if !ok {
		return "", store.ErrContactPhoneNotFound
	}
	return phone, nil
}

func (r *memRepo) TransitionCampaignStatus(ctx context.Context, campaignID uuid.UUID, from []domain.CampaignStatus, to domain.CampaignStatus) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return nil, store.ErrCampaignNotFound
	}
	for _, s := range from {
		if c.Status == s {
			c.Status = to
			out := *c
			return &out, nil
		}
	}
	return nil, store.ErrCampaignStatusConflict
}

func (r *memRepo) insertClosureLocked(campaignID uuid.UUID, reason string, isCompleted bool) bool {
	if _, ok := r.closures[campaignID]; ok {
		return false
	}
	r.closures[campaignID] = domain.ClosedCampaign{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		Reason:      reason,
		IsCompleted: isCompleted,
		CreatedAt:   time.Now(),
	}
	return true
}

func (r *memRepo) CloseActiveCampaign(ctx context.Context, campaignID uuid.UUID, to domain.CampaignStatus, reason string, isCompleted bool) (*domain.Campaign, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return nil, false, r.closeErr
	}
	c, ok := r.campaigns[campaignID]
	if !ok {
		return nil, false, store.ErrCampaignNotFound
	}
	switch c.Status {
	case domain.CampaignStatusActive:
		c.Status = to
		r.insertClosureLocked(campaignID, reason, isCompleted)
		out := *c
		return &out, true, nil
	case to:
		r.insertClosureLocked(campaignID, reason, isCompleted)
		out := *c
		return &out, false, nil
	}
	return nil, false, store.ErrCampaignStatusConflict
}

func (r *memRepo) CloseCampaignsPastDeadline(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, c := range r.campaigns {
		if c.Status == domain.CampaignStatusActive && c.DeadlinePassed(now) {
			c.Status = domain.CampaignStatusClosed
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memRepo) ListClosedCampaignsMissingClosure(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, c := range r.campaigns {
		if c.Status != domain.CampaignStatusClosed || !c.DeadlinePassed(now) {
			continue
		}
		if _, ok := r.closures[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memRepo) InsertClosureRecord(ctx context.Context, campaignID uuid.UUID, reason string, isCompleted bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.insertErrFor[campaignID]; err != nil {
		return false, err
	}
	return r.insertClosureLocked(campaignID, reason, isCompleted), nil
}

func (r *memRepo) GetClosureRecord(ctx context.Context, campaignID uuid.UUID) (*domain.ClosedCampaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.closures[campaignID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *memRepo) SetCloseCode(ctx context.Context, campaignID uuid.UUID, codeHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return store.ErrCampaignNotFound
	}
	c.CloseCodeHash = &codeHash
	c.CloseCodeExpiresAt = &expiresAt
	c.CloseCodeVerifiedAt = nil
	return nil
}

func (r *memRepo) ConsumeCloseCode(ctx context.Context, campaignID uuid.UUID, verifiedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return store.ErrCampaignNotFound
	}
	c.CloseCodeHash = nil
	c.CloseCodeExpiresAt = nil
	c.CloseCodeVerifiedAt = &verifiedAt
	return nil
}

func (r *memRepo) CreateDonation(ctx context.Context, donation *domain.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.donations[donation.TxRef]; ok {
		return store.ErrDuplicateTxRef
	}
	d := *donation
	r.donations[d.TxRef] = &d
	return nil
}

func (r *memRepo) GetDonationByTxRef(ctx context.Context, txRef string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[txRef]
	if !ok {
		return nil, store.ErrDonationNotFound
	}
	out := *d
	return &out, nil
}

func (r *memRepo) listDonations(match func(domain.Donation) bool) []domain.Donation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Donation{}
	for _, d := range r.donations {
		if d.PaymentStatus == domain.PaymentStatusVerified && match(*d) {
			out = append(out, *d)
		}
	}
	return out
}

func (r *memRepo) ListVerifiedDonationsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.Donation, error) {
	return r.listDonations(func(d domain.Donation) bool { return d.CampaignID == campaignID }), nil
}

func (r *memRepo) ListVerifiedDonationsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Donation, error) {
	return r.listDonations(func(d domain.Donation) bool { return d.UserID != nil && *d.UserID == userID }), nil
}

func (r *memRepo) VerifyDonationAndCredit(ctx context.Context, txRef string) (*domain.Donation, *domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[txRef]
	if !ok {
		return nil, nil, store.ErrDonationNotFound
	}
	if d.PaymentStatus != domain.PaymentStatusPending {
		return nil, nil, store.ErrDonationAlreadyProcessed
	}
	c, ok := r.campaigns[d.CampaignID]
	if !ok {
		return nil, nil, store.ErrCampaignNotFound
	}
	d.PaymentStatus = domain.PaymentStatusVerified
	c.Raised = c.Raised.Credit(d.Currency, d.Amount)
	r.creditCalls++
	outD, outC := *d, *c
	return &outD, &outC, nil
}

func (r *memRepo) MarkDonationFailed(ctx context.Context, txRef string, reason string) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[txRef]
	if !ok {
		return nil, store.ErrDonationNotFound
	}
	if d.PaymentStatus != domain.PaymentStatusPending {
		return nil, store.ErrDonationAlreadyProcessed
	}
	d.PaymentStatus = domain.PaymentStatusFailed
	if reason != "" {
		d.FailureReason = &reason
	}
	out := *d
	return &out, nil
}

func (r *memRepo) GetLatestCurrencyRate(ctx context.Context) (*domain.CurrencyRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rate == nil {
		return nil, store.ErrCurrencyRateNotFound
	}
	out := *r.rate
	return &out, nil
}

func (r *memRepo) ReplaceCurrencyRate(ctx context.Context, rate domain.CurrencyRate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.rate = &rate
	return nil
}

type smsStub struct {
	to   string
	body string
	err  error
}

func (s *smsStub) Send(ctx context.Context, to, body string) error {
	if s.err != nil {
		return s.err
	}
	s.to = to
	s.body = body
	return nil
}

type publisherStub struct {
	mu   sync.Mutex
	keys []string
}

func (p *publisherStub) Publish(ctx context.Context, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *publisherStub) published(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == key {
			n++
		}
	}
	return n
}

type limiterStub struct {
	count int
	err   error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l.err != nil {
		return 0, 0, l.err
	}
	l.count++
	return l.count, 42, nil
}

var errStub = errors.New("stub failure")
