package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"tally/internal/cache"
	"tally/internal/cli"
	apphttp "tally/internal/http"
	"tally/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStorage(logger, cfg.DBPath)
	defer repo.Close()

	// Event publishing is best effort; without a broker the balance
	// worker falls back to its startup rebuild.
	events, closeBroker := cli.ConnectBroker(logger, cfg)
	defer closeBroker()

	ledger := services.NewLedgerService(repo, events)
	rates := services.NewRateService(repo, cache.NewLRUCache[decimal.Decimal](256, 15*time.Minute))
	shopping := services.NewShoppingService(repo, ledger, cfg.ShoppingAllowEmptyComplete)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Storage:           repo,
		Ledger:            ledger,
		Recurring:         services.NewRecurringService(repo, ledger),
		Shopping:          shopping,
		ShoppingTemplates: services.NewShoppingTemplateService(repo, shopping),
		Transfers:         services.NewTransferService(repo, rates, ledger),
		Rates:             rates,
		Stats:             services.NewStatsService(repo, rates),
		DefaultCurrency:   cfg.DefaultCurrency,
	})

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting tally server", "port", cfg.Port, "db", cfg.DBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
