package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/currencyclient"
)

type fetcherStub struct {
	rates *currencyclient.Rates
	err   error
	calls int
}

func (s *fetcherStub) Latest(ctx context.Context) (*currencyclient.Rates, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rates, nil
}

func TestRateCache_CurrentWithoutSnapshotFailsLoudly(t *testing.T) {
	cache := NewRateCache(newMemRepo(), nil, testLogger())

	if _, err := cache.CurrentRate(context.Background()); !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
	if _, err := cache.Current(context.Background()); !errors.Is(err, ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable from Current, got %v", err)
	}
}

func TestRateCache_RefreshReplacesSnapshot(t *testing.T) {
	repo := newMemRepo()
	repo.setRate("120", "1")
	fetcher := &fetcherStub{rates: &currencyclient.Rates{ETB: dec("57.5"), USD: dec("1"), UpdatedAt: time.Now()}}
	cache := NewRateCache(repo, fetcher, testLogger())

	rate, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if !rate.ETBValue.Equal(dec("57.5")) {
		t.Fatalf("unexpected refreshed rate: %+v", rate)
	}

	etbPerUSD, err := cache.CurrentRate(context.Background())
	if err != nil || !etbPerUSD.Equal(dec("57.5")) {
		t.Fatalf("expected 57.5, got %s (%v)", etbPerUSD, err)
	}
	converted, err := domain.Convert(dec("115"), domain.CurrencyETB, domain.CurrencyUSD, etbPerUSD)
	if err != nil || !converted.Equal(dec("2")) {
		t.Fatalf("expected 2 USD, got %s (%v)", converted, err)
	}
}

func TestRateCache_FailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fetcherStub
		repoErr error
	}{
		{name: "provider error", fetcher: &fetcherStub{err: errStub}},
		{name: "zero quote", fetcher: &fetcherStub{rates: &currencyclient.Rates{ETB: dec("0"), USD: dec("1")}}},
		{name: "storage error", fetcher: &fetcherStub{rates: &currencyclient.Rates{ETB: dec("60"), USD: dec("1")}}, repoErr: errStub},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			repo.setRate("120", "1")
			repo.replaceErr = tt.repoErr
			cache := NewRateCache(repo, tt.fetcher, testLogger())

			if _, err := cache.Refresh(context.Background()); !errors.Is(err, ErrRateRefreshFailed) {
				t.Fatalf("expected ErrRateRefreshFailed, got %v", err)
			}
			etbPerUSD, err := cache.CurrentRate(context.Background())
			if err != nil || !etbPerUSD.Equal(dec("120")) {
				t.Fatalf("expected previous rate 120, got %s (%v)", etbPerUSD, err)
			}
		})
	}
}
