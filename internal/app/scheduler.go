/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kaleabSolomon/sewlesew-backend/internal/config"
	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// withTimezone pins a schedule to tz unless it already names one.
func withTimezone(schedule, tz string) string {
	schedule = strings.TrimSpace(schedule)
	if tz == "" || strings.HasPrefix(schedule, "CRON_TZ=") || strings.HasPrefix(schedule, "TZ=") {
		return schedule
	}
	return "CRON_TZ=" + tz + " " + schedule
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.DeadlineSweepSchedule, s.jobs.CloseExpiredCampaigns); err != nil {
		s.logger.Error("failed to schedule campaign deadline sweep job", "error", err)
	} else {
		s.logger.Info("scheduled campaign deadline sweep job", "schedule", s.config.DeadlineSweepSchedule)
	}

	rateSchedule := withTimezone(s.config.RateRefreshSchedule, s.config.RateRefreshTimezone)
	if _, err := s.cron.AddFunc(rateSchedule, s.jobs.RefreshCurrencyRates); err != nil {
		s.logger.Error("failed to schedule currency rate refresh job", "error", err)
	} else {
		s.logger.Info("scheduled currency rate refresh job", "schedule", rateSchedule)
	}

	s.cron.Start()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
