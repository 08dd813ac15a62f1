package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tally/internal/cli"
	"tally/internal/core"
	"tally/internal/services"
)

func main() {
	backfill := flag.Bool("backfill", false, "post every overdue occurrence on its own due date, then exit")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStorage(logger, cfg.DBPath)
	defer repo.Close()

	// Posted occurrences are announced on the broker so the balance worker
	// can refresh snapshots without polling.
	events, closeBroker := cli.ConnectBroker(logger, cfg)
	defer closeBroker()

	ledger := services.NewLedgerService(repo, events)
	recurring := services.NewRecurringService(repo, ledger)
	processor := services.NewRecurringProcessor(recurring)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Batch mode: replay missed occurrences at their historical dates
	// instead of the single makeup post the periodic pass would make.
	if *backfill {
		reports, err := recurring.BackfillAll(ctx, core.Today())
		if err != nil {
			logger.Error("Backfill failed", "error", err)
			os.Exit(1)
		}
		total := 0
		for _, rep := range reports {
			total += rep.Executed
			if rep.Err != nil {
				logger.Error("Backfill stopped early",
					"template_id", rep.TemplateID,
					"executed", rep.Executed,
					"error", rep.Err)
			} else if rep.Executed > 0 {
				logger.Info("Template caught up",
					"template_id", rep.TemplateID,
					"executed", rep.Executed,
					"first", rep.Dates[0].String(),
					"last", rep.Dates[len(rep.Dates)-1].String())
			}
		}
		logger.Info("Backfill complete", "templates", len(reports), "transactions_posted", total)
		return
	}

	logger.Info("Recurring template processor configured",
		"interval", cfg.RecurringInterval,
		"db", cfg.DBPath)

	// One pass right away so a worker restarted after downtime does not
	// wait a full interval to catch up.
	if count, err := processor.ProcessDue(ctx, core.Today()); err != nil {
		logger.Error("Initial processing failed", "error", err)
	} else {
		logger.Info("Initial processing complete", "transactions_posted", count)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(cfg.RecurringInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				count, err := processor.ProcessDue(ctx, core.DateOf(now))
				switch {
				case err != nil:
					logger.Error("Periodic processing failed", "error", err)
				case count > 0:
					logger.Info("Posted due recurring transactions", "count", count)
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	// Let an in-flight pass finish before closing the repository.
	cancel()
	select {
	case <-done:
		logger.Info("Recurring-worker shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("Shutdown timed out waiting for the processor")
	}
}