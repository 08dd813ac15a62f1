package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tally/internal/core"
	"tally/internal/services"
)

const transactionColumns = `id, type, account_id, target_account_id, category_id,
	amount, converted_amount, exchange_rate, description, date,
	shopping_list_id, recurring_template_id, idempotency_key, created_at, updated_at`

func (r *Repository) CreateTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (type, account_id, target_account_id, category_id,
			amount, converted_amount, exchange_rate, description, date,
			shopping_list_id, recurring_template_id, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.Type, tx.AccountID, nullInt64ToDB(tx.TargetAccountID), nullInt64ToDB(tx.CategoryID),
		decToDB(tx.Amount), nullDecToDB(tx.ConvertedAmount), nullDecToDB(tx.ExchangeRate),
		tx.Description, dateToDB(tx.Date),
		nullInt64ToDB(tx.ShoppingListID), nullInt64ToDB(tx.RecurringTemplateID),
		emptyToNull(tx.IdempotencyKey), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("idempotency key %q: %w", tx.IdempotencyKey, core.ErrDuplicate)
		}
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}
	return id, nil
}

func (r *Repository) GetTransaction(ctx context.Context, id int64) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ? AND deleted_at IS NULL", id)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("transaction %d", id))
	}
	return tx, nil
}

func (r *Repository) GetTransactionByKey(ctx context.Context, key string) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE idempotency_key = ? AND deleted_at IS NULL", key)
	tx, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("transaction with key %q", key))
	}
	return tx, nil
}

func (r *Repository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET type = ?, account_id = ?, target_account_id = ?, category_id = ?,
			amount = ?, converted_amount = ?, exchange_rate = ?, description = ?, date = ?,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		tx.Type, tx.AccountID, nullInt64ToDB(tx.TargetAccountID), nullInt64ToDB(tx.CategoryID),
		decToDB(tx.Amount), nullDecToDB(tx.ConvertedAmount), nullDecToDB(tx.ExchangeRate),
		tx.Description, dateToDB(tx.Date), time.Now().UTC(), tx.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireRow(res, fmt.Sprintf("transaction %d", tx.ID))
}

// DeleteTransaction soft-deletes: the row stays for audit, every read
// filters it out.
func (r *Repository) DeleteTransaction(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE transactions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireRow(res, fmt.Sprintf("transaction %d", id))
}

func (r *Repository) ListTransactions(ctx context.Context, f services.TransactionFilter) ([]core.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE deleted_at IS NULL"
	var args []any
	if f.From != nil {
		query += " AND date >= ?"
		args = append(args, dateToDB(*f.From))
	}
	if f.To != nil {
		query += " AND date <= ?"
		args = append(args, dateToDB(*f.To))
	}
	if f.AccountID != nil {
		query += " AND (account_id = ? OR target_account_id = ?)"
		args = append(args, *f.AccountID, *f.AccountID)
	}
	if f.CategoryID != nil {
		query += " AND category_id = ?"
		args = append(args, *f.CategoryID)
	}
	if f.Type != nil {
		query += " AND type = ?"
		args = append(args, *f.Type)
	}
	query += " ORDER BY date DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var transactions []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var (
		tx              core.Transaction
		targetAccountID sql.NullInt64
		categoryID      sql.NullInt64
		amount          string
		convertedAmount sql.NullString
		exchangeRate    sql.NullString
		date            string
		listID          sql.NullInt64
		templateID      sql.NullInt64
		idempotencyKey  sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.Type, &tx.AccountID, &targetAccountID, &categoryID,
		&amount, &convertedAmount, &exchangeRate, &tx.Description, &date,
		&listID, &templateID, &idempotencyKey, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tx.TargetAccountID = nullInt64FromDB(targetAccountID)
	tx.CategoryID = nullInt64FromDB(categoryID)
	tx.ShoppingListID = nullInt64FromDB(listID)
	tx.RecurringTemplateID = nullInt64FromDB(templateID)
	tx.IdempotencyKey = idempotencyKey.String

	if tx.Amount, err = decFromDB(amount); err != nil {
		return nil, err
	}
	if tx.ConvertedAmount, err = nullDecFromDB(convertedAmount); err != nil {
		return nil, err
	}
	if tx.ExchangeRate, err = nullDecFromDB(exchangeRate); err != nil {
		return nil, err
	}
	if tx.Date, err = dateFromDB(date); err != nil {
		return nil, err
	}
	return &tx, nil
}

func emptyToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}
