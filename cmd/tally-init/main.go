package main

import (
	"context"
	"os"
	"time"

	"tally/internal/cli"
	"tally/internal/storage"
)

// tally-init creates the database file, brings the schema up to date and
// verifies the seeded catalogs. Safe to run repeatedly; migrations are
// versioned and seeds insert-or-ignore.
func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Initializing database", "path", cfg.DBPath)
	repo := cli.InitStorage(logger, cfg.DBPath)
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := repo.Ping(ctx); err != nil {
		logger.Error("Database not reachable after migration", "error", err)
		os.Exit(1)
	}

	currencies, err := repo.ListCurrencies(ctx)
	if err != nil {
		logger.Error("Failed to read currency catalog", "error", err)
		os.Exit(1)
	}

	categories, err := repo.ListCategories(ctx, nil)
	if err != nil {
		logger.Error("Failed to read category catalog", "error", err)
		os.Exit(1)
	}

	accounts, err := repo.ListAccounts(ctx, true)
	if err != nil {
		logger.Error("Failed to read accounts", "error", err)
		os.Exit(1)
	}

	version, dirty, err := storage.SchemaVersion(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to read schema version", "error", err)
		os.Exit(1)
	}
	if dirty {
		logger.Error("Schema is dirty; a migration failed midway", "version", version)
		os.Exit(1)
	}

	logger.Info("Database ready",
		"path", cfg.DBPath,
		"schema_version", version,
		"currencies", len(currencies),
		"categories", len(categories),
		"accounts", len(accounts))

	for _, c := range currencies {
		logger.Info("Currency available", "code", c.Code, "symbol", c.Symbol, "decimal_places", c.DecimalPlaces)
	}
}
