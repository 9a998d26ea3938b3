/**
 * @description
 * Scheduled job implementations: the hourly deadline sweep and the daily currency
 * rate refresh. Jobs log their failures and return; a failed run is retried by the
 * next tick.
 */
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kaleabSolomon/sewlesew-backend/internal/config"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
)

// DeadlineSweeper closes campaigns whose deadline passed.
type DeadlineSweeper interface {
	SweepDeadlines(ctx context.Context) (SweepResult, error)
}

// RateRefresher reads and replaces the cached currency snapshot.
type RateRefresher interface {
	Current(ctx context.Context) (*domain.CurrencyRate, error)
	Refresh(ctx context.Context) (*domain.CurrencyRate, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	sweeper DeadlineSweeper
	rates   RateRefresher
	logger  *slog.Logger
	config  config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(sweeper DeadlineSweeper, rates RateRefresher, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		sweeper: sweeper,
		rates:   rates,
		logger:  logger,
		config:  cfg,
	}
}

// CloseExpiredCampaigns runs one deadline sweep.
func (j *Jobs) CloseExpiredCampaigns() {
	j.logger.Info("starting campaign deadline sweep job")
	ctx := context.Background()

	result, err := j.sweeper.SweepDeadlines(ctx)
	if err != nil {
		j.logger.Error("failed to sweep campaign deadlines", "error", err)
		return
	}

	if result.Closed == 0 && result.RecordsCreated == 0 {
		j.logger.Info("no campaigns past their deadline")
		return
	}

	j.logger.Info("campaign deadline sweep job finished", "closed", result.Closed, "records_created", result.RecordsCreated)
}

// RefreshCurrencyRates fetches and stores the latest ETB/USD quotes.
func (j *Jobs) RefreshCurrencyRates() {
	j.logger.Info("starting currency rate refresh job")
	ctx := context.Background()

	rate, err := j.rates.Refresh(ctx)
	if err != nil {
		j.logger.Error("failed to refresh currency rates", "error", err)
		return
	}

	j.logger.Info("currency rate refresh job finished", "etb_value", rate.ETBValue.String(), "usd_value", rate.USDValue.String())
}

// EnsureCurrencyRate fills an empty rate cache once, so cross-currency donations do not
// wait for the first scheduled refresh. Failures are logged.
func (j *Jobs) EnsureCurrencyRate(ctx context.Context) {
	_, err := j.rates.Current(ctx)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrRateUnavailable) {
		j.logger.Warn("failed to read currency rate at startup", "error", err)
		return
	}

	j.logger.Info("no currency rate stored, refreshing now")
	rate, err := j.rates.Refresh(ctx)
	if err != nil {
		j.logger.Error("startup currency rate refresh failed", "error", err)
		return
	}
	j.logger.Info("startup currency rate refresh finished", "etb_value", rate.ETBValue.String(), "usd_value", rate.USDValue.String())
}
