// Package cli provides common startup utilities for the tally binaries.
// This package consolidates repeated initialization patterns across
// cmd/tally, cmd/recurring-worker, cmd/rates-worker and cmd/tally-worker.
package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"tally/internal/amqp"
	"tally/internal/config"
	"tally/internal/log"
	"tally/internal/services"
	"tally/internal/storage"
)

// SetupLogger wires the process-wide structured logger. The level comes
// from LOG_LEVEL (debug, info, warn, error); anything else means info.
func SetupLogger() *slog.Logger {
	logger := log.New(log.Config{Level: parseLevel(os.Getenv("LOG_LEVEL"))})
	log.SetDefault(logger)
	return logger.Logger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadEnvFile loads .env for local development. TALLY_ENV_FILE points at
// an alternative file; missing files are fine either way, production
// sets real environment variables.
func LoadEnvFile() {
	if path := os.Getenv("TALLY_ENV_FILE"); path != "" {
		_ = godotenv.Load(path)
		return
	}
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it, exiting the
// process on failure so a bad deployment never half-starts.
func LoadAndValidateConfig(logger *slog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitStorage opens the SQLite repository, running any pending
// migrations. Exits the process on failure.
func InitStorage(logger *slog.Logger, dbPath string) *storage.Repository {
	repo, err := storage.NewRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// ConnectBroker dials the message broker when one is configured. The
// returned publisher is nil when AMQP is disabled or unreachable; the
// ledger treats a nil publisher as "don't publish". The cleanup func is
// always safe to defer.
func ConnectBroker(logger *slog.Logger, cfg *config.Config) (services.EventPublisher, func()) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - balance snapshots rely on worker rebuilds")
		return nil, func() {}
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing in SQLite-only mode", "error", err)
		return nil, func() {}
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
	return client, func() { _ = client.Close() }
}
