/**
 * @description
 * Entry point for the campaign-service. `serve` runs the HTTP API together with the
 * cron scheduler; `sweep` and `refresh-rates` run a single background task and exit,
 * which lets an external scheduler drive them instead.
 *
 * @dependencies
 * - github.com/spf13/cobra: Command line surface.
 * - github.com/joho/godotenv: Loads a local .env file in development.
 * - internal/config, internal/store, internal/app, internal/api.
 */
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kaleabSolomon/sewlesew-backend/internal/api"
	"github.com/kaleabSolomon/sewlesew-backend/internal/app"
	"github.com/kaleabSolomon/sewlesew-backend/internal/config"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	rootCmd := &cobra.Command{
		Use:           "sewlesew",
		Short:         "Sewlesew campaign-service: campaigns, donations and currency rates",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", ".", "Directory holding an optional .env file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(refreshRatesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Close every active campaign whose deadline has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			svc, err := newServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.lifecycle.SweepDeadlines(ctx)
			if err != nil {
				return fmt.Errorf("deadline sweep failed: %w", err)
			}
			svc.logger.Info("deadline sweep finished", "closed", result.Closed, "records_created", result.RecordsCreated)
			return nil
		},
	}
}

func refreshRatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-rates",
		Short: "Fetch the latest USD/ETB rate and replace the stored snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			svc, err := newServices(ctx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			rate, err := svc.rates.Refresh(ctx)
			if err != nil {
				return err
			}
			svc.logger.Info("currency rate refreshed", "etb_value", rate.ETBValue.String(), "usd_value", rate.USDValue.String())
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("cannot load config: %w", err)
	}
	return cfg, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := newServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	logger := svc.logger

	jobs := app.NewJobs(svc.lifecycle, svc.rates, logger, cfg)
	jobs.EnsureCurrencyRate(ctx)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()

	handler := api.NewHandler(svc.lifecycle, svc.reconciler, svc.rates, svc.regionalSig, svc.cardHooks)
	router := api.NewRouter(handler, api.RouterConfig{
		AccessTokenSecret: cfg.AccessTokenSecret,
		InternalAPIKey:    cfg.InternalAPIKey,
		FrontendURL:       cfg.FrontendURL,
		RequestTimeout:    cfg.RequestTimeout(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("campaign-service starting", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("http server failed", "error", err)
		<-scheduler.Stop().Done()
		return err
	}

	logger.Info("stopping scheduler, waiting for running jobs to finish")
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}

	logger.Info("campaign-service exited gracefully")
	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
