package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
	"github.com/kaleabSolomon/sewlesew-backend/internal/store"
	"github.com/kaleabSolomon/sewlesew-backend/pkg/currencyclient"
	"github.com/shopspring/decimal"
)

// RateFetcher retrieves live quotes. Implemented by pkg/currencyclient.
type RateFetcher interface {
	Latest(ctx context.Context) (*currencyclient.Rates, error)
}

// RateProvider yields the ETB-per-USD rate used for progress computation.
type RateProvider interface {
	CurrentRate(ctx context.Context) (decimal.Decimal, error)
}

// RateCache keeps exactly one persisted ETB/USD snapshot and serves reads from it.
type RateCache struct {
	repo    store.Repository
	fetcher RateFetcher
	logger  *slog.Logger
	now     func() time.Time
}

// NewRateCache creates a new rate cache.
func NewRateCache(repo store.Repository, fetcher RateFetcher, logger *slog.Logger) *RateCache {
	return &RateCache{repo: repo, fetcher: fetcher, logger: logger, now: time.Now}
}

// Refresh fetches fresh quotes and swaps them in. On any failure the previous snapshot
// stays in place.
func (c *RateCache) Refresh(ctx context.Context) (*domain.CurrencyRate, error) {
	if c.fetcher == nil {
		return nil, fmt.Errorf("%w: no rate provider configured", ErrRateRefreshFailed)
	}
	quotes, err := c.fetcher.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateRefreshFailed, err)
	}

	rate := domain.CurrencyRate{
		ID:        uuid.New(),
		ETBValue:  quotes.ETB,
		USDValue:  quotes.USD,
		CreatedAt: c.now().UTC(),
	}
	if _, err := rate.ETBPerUSD(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateRefreshFailed, err)
	}

	if err := c.repo.ReplaceCurrencyRate(ctx, rate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateRefreshFailed, err)
	}
	c.logger.Info("currency rates refreshed", "etb_value", rate.ETBValue.String(), "usd_value", rate.USDValue.String())
	return &rate, nil
}

// Current returns the stored snapshot. It never falls back to a default rate.
func (c *RateCache) Current(ctx context.Context) (*domain.CurrencyRate, error) {
	rate, err := c.repo.GetLatestCurrencyRate(ctx)
	if err != nil {
		if errors.Is(err, store.ErrCurrencyRateNotFound) {
			return nil, ErrRateUnavailable
		}
		return nil, err
	}
	return rate, nil
}

// CurrentRate returns ETB units per 1 USD from the stored snapshot.
func (c *RateCache) CurrentRate(ctx context.Context) (decimal.Decimal, error) {
	rate, err := c.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	etbPerUSD, err := rate.ETBPerUSD()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	return etbPerUSD, nil
}
