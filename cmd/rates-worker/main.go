package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tally/internal/cli"
	"tally/internal/rates"
	"tally/internal/services"
)

func main() {
	backfillDays := flag.Int("backfill", 0, "seed pending runs for the past N days, drain the queue and exit")
	retryFailed := flag.Bool("retry-failed", false, "reset failed runs to pending before processing")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting rates-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStorage(logger, cfg.DBPath)
	defer repo.Close()

	collector := services.NewRateCollector(
		repo,
		rates.NewECBClient(cfg.ECBURL, cfg.RatesTimeout),
		rates.NewCBRClient(cfg.CBRURL, cfg.RatesTimeout),
		services.RateCollectorConfig{
			PollInterval: cfg.RatesInterval,
			MaxRetries:   cfg.RatesMaxRetries,
			BatchSize:    5,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *retryFailed {
		count, err := collector.RetryFailed(ctx)
		if err != nil {
			logger.Error("Failed to reset failed runs", "error", err)
			os.Exit(1)
		}
		logger.Info("Failed runs reset to pending", "count", count)
	}

	// Batch mode: seed past days, drain the queue and exit. Used for
	// first deployments and after provider outages.
	if *backfillDays > 0 {
		logger.Info("Running backfill", "days", *backfillDays)
		if err := collector.Backfill(ctx, *backfillDays); err != nil {
			logger.Error("Backfill seeding failed", "error", err)
			os.Exit(1)
		}
		total := 0
		for {
			processed := collector.ProcessPending(ctx)
			total += processed
			if processed == 0 {
				break
			}
		}
		logger.Info("Backfill complete", "runs_processed", total)
		return
	}

	if err := collector.Start(ctx); err != nil {
		logger.Error("Failed to start rate collector", "error", err)
		os.Exit(1)
	}

	logger.Info("Rate collector configured",
		"poll_interval", cfg.RatesInterval,
		"max_retries", cfg.RatesMaxRetries,
		"db", cfg.DBPath)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := collector.Stop(shutdownCtx); err != nil {
		logger.Warn("Rate collector stop timed out", "error", err)
	} else {
		logger.Info("Rates-worker shutdown complete")
	}
}
