package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/amqp"
	"tally/internal/core"
)

// BalanceStore is the persistence surface the balance worker needs.
type BalanceStore interface {
	ListAccounts(ctx context.Context, includeArchived bool) ([]core.Account, error)
	GetAccount(ctx context.Context, id int64) (*core.Account, error)
	ComputeAccountBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	UpsertAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal, asOf time.Time) error
}

// BalanceWorker keeps the account balance snapshots in step with the
// ledger. Every event triggers a full recompute of the named accounts
// rather than a delta, so duplicate or out-of-order deliveries cannot
// drift the snapshot.
type BalanceWorker struct {
	storage BalanceStore
}

func NewBalanceWorker(storage BalanceStore) *BalanceWorker {
	return &BalanceWorker{storage: storage}
}

// HandleTransactionEvent refreshes the snapshot of every account the event
// names. An account deleted since the event was published is skipped.
func (w *BalanceWorker) HandleTransactionEvent(ctx context.Context, event *amqp.TransactionEvent) error {
	slog.InfoContext(ctx, "Processing transaction event",
		"event", event.Event,
		"transaction_id", event.TransactionID,
		"account_ids", event.AccountIDs)

	for _, accountID := range uniqueIDs(event.AccountIDs) {
		err := w.RefreshAccount(ctx, accountID)
		if errors.Is(err, core.ErrNotFound) {
			slog.WarnContext(ctx, "Account gone, skipping balance refresh",
				"account_id", accountID)
			continue
		}
		if err != nil {
			return fmt.Errorf("refresh account %d: %w", accountID, err)
		}
	}
	return nil
}

// RefreshAccount recomputes one account's balance from the ledger and
// stores the snapshot.
func (w *BalanceWorker) RefreshAccount(ctx context.Context, accountID int64) error {
	if _, err := w.storage.GetAccount(ctx, accountID); err != nil {
		return err
	}

	balance, err := w.storage.ComputeAccountBalance(ctx, accountID)
	if err != nil {
		return fmt.Errorf("compute balance: %w", err)
	}
	if err := w.storage.UpsertAccountBalance(ctx, accountID, balance, time.Now().UTC()); err != nil {
		return fmt.Errorf("save balance: %w", err)
	}

	slog.InfoContext(ctx, "Refreshed account balance",
		"account_id", accountID,
		"balance", balance.String())
	return nil
}

// RebuildAll recomputes the snapshot of every account, archived ones
// included. Run at startup so events missed while the worker was down
// leave no stale balance behind.
func (w *BalanceWorker) RebuildAll(ctx context.Context) error {
	accounts, err := w.storage.ListAccounts(ctx, true)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	rebuilt := 0
	failed := 0
	for _, account := range accounts {
		if err := w.RefreshAccount(ctx, account.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to rebuild balance",
				"account_id", account.ID,
				"error", err)
			failed++
			continue
		}
		rebuilt++
	}

	slog.InfoContext(ctx, "Balance rebuild completed",
		"total", len(accounts),
		"rebuilt", rebuilt,
		"errors", failed)

	if failed > 0 {
		return fmt.Errorf("rebuild balances: %d of %d accounts failed", failed, len(accounts))
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
