package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ComputeAccountBalance derives an account's balance from the ledger:
// income adds, expense subtracts, a transfer moves amount out of the source
// and converted_amount (falling back to amount) into the target. Decimal
// arithmetic stays in Go; the database only hands back the rows.
func (r *Repository) ComputeAccountBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, account_id, target_account_id, amount, converted_amount
		FROM transactions
		WHERE deleted_at IS NULL AND (account_id = ? OR target_account_id = ?)`,
		accountID, accountID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("load account %d transactions: %w", accountID, err)
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var (
			txType          string
			srcID           int64
			targetID        sql.NullInt64
			amountStr       string
			convertedAmount sql.NullString
		)
		if err := rows.Scan(&txType, &srcID, &targetID, &amountStr, &convertedAmount); err != nil {
			return decimal.Decimal{}, err
		}
		amount, err := decFromDB(amountStr)
		if err != nil {
			return decimal.Decimal{}, err
		}

		switch txType {
		case "income":
			balance = balance.Add(amount)
		case "expense":
			balance = balance.Sub(amount)
		case "transfer":
			if srcID == accountID {
				balance = balance.Sub(amount)
			}
			if targetID.Valid && targetID.Int64 == accountID {
				incoming := amount
				if converted, err := nullDecFromDB(convertedAmount); err != nil {
					return decimal.Decimal{}, err
				} else if converted.Valid {
					incoming = converted.Decimal
				}
				balance = balance.Add(incoming)
			}
		}
	}
	return balance, rows.Err()
}

// UpsertAccountBalance writes the snapshot the balance worker maintains.
func (r *Repository) UpsertAccountBalance(ctx context.Context, accountID int64, balance decimal.Decimal, asOf time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account_balances (account_id, balance, as_of)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE
		SET balance = excluded.balance, as_of = excluded.as_of`,
		accountID, decToDB(balance), asOf.UTC())
	if err != nil {
		return fmt.Errorf("upsert balance for account %d: %w", accountID, err)
	}
	return nil
}

// ListBalanceSnapshots returns the snapshot table keyed by account id.
// Accounts without a snapshot are simply absent.
func (r *Repository) ListBalanceSnapshots(ctx context.Context) (map[int64]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT account_id, balance FROM account_balances")
	if err != nil {
		return nil, fmt.Errorf("list balance snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			accountID int64
			value     string
		)
		if err := rows.Scan(&accountID, &value); err != nil {
			return nil, err
		}
		balance, err := decFromDB(value)
		if err != nil {
			return nil, err
		}
		snapshots[accountID] = balance
	}
	return snapshots, rows.Err()
}
