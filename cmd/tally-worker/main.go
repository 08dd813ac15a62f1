package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/amqp"
	"tally/internal/cli"
	"tally/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting tally-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStorage(logger, cfg.DBPath)
	defer repo.Close()

	// This worker exists to consume transaction events; without a broker
	// there is nothing to do.
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	balanceWorker := worker.NewBalanceWorker(repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rebuild all snapshots on startup to cover events missed while the
	// worker was down.
	logger.Info("Rebuilding account balance snapshots...")
	if err := balanceWorker.RebuildAll(ctx); err != nil {
		logger.Error("Startup balance rebuild failed", "error", err)
		// Don't exit - events will repair balances as they arrive
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		handler := func(event *amqp.TransactionEvent) error {
			return balanceWorker.HandleTransactionEvent(gctx, event)
		}
		err := amqpClient.ConsumeTransactionEvents(gctx, handler)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	// Hourly full rebuild as a safety net for dropped events.
	g.Go(func() error {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := balanceWorker.RebuildAll(gctx); err != nil {
					logger.Error("Periodic balance rebuild failed", "error", err)
				}
			}
		}
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// A failed consumer cancels gctx, which lands here too.
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-gctx.Done():
	}

	logger.Info("Shutting down tally-worker...")
	cancel()

	waited := make(chan error, 1)
	go func() { waited <- g.Wait() }()

	select {
	case err := <-waited:
		if err != nil {
			logger.Error("Worker exited with error", "error", err)
			os.Exit(1)
		}
		logger.Info("Tally-worker shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("Shutdown timed out waiting for the consumer")
	}
}