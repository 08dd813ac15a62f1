package storage

import (
	"context"
	"fmt"
	"time"

	"tally/internal/core"
)

const accountColumns = "id, name, currency_code, color, icon, is_archived, created_at, updated_at"

func (r *Repository) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (name, currency_code, color, icon, is_archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.CurrencyCode, a.Color, a.Icon, a.IsArchived, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("account id: %w", err)
	}
	return id, nil
}

func (r *Repository) GetAccount(ctx context.Context, id int64) (*core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("account %d", id))
	}
	return a, nil
}

func (r *Repository) ListAccounts(ctx context.Context, includeArchived bool) ([]core.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts"
	if !includeArchived {
		query += " WHERE is_archived = 0"
	}
	query += " ORDER BY name"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (r *Repository) UpdateAccount(ctx context.Context, a core.Account) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, currency_code = ?, color = ?, icon = ?, is_archived = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.CurrencyCode, a.Color, a.Icon, a.IsArchived, time.Now().UTC(), a.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return requireRow(res, fmt.Sprintf("account %d", a.ID))
}

// DeleteAccount removes an account with no transactions. Accounts in use
// cannot be deleted; archive them instead.
func (r *Repository) DeleteAccount(ctx context.Context, id int64) error {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE (account_id = ? OR target_account_id = ?) AND deleted_at IS NULL`,
		id, id).Scan(&n)
	if err != nil {
		return fmt.Errorf("count account transactions: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("account %d has %d transactions: %w", id, n, core.ErrInvalidState)
	}

	res, err := r.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireRow(res, fmt.Sprintf("account %d", id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*core.Account, error) {
	var a core.Account
	err := row.Scan(&a.ID, &a.Name, &a.CurrencyCode, &a.Color, &a.Icon,
		&a.IsArchived, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// requireRow converts a zero-row update or delete into core.ErrNotFound.
func requireRow(res interface{ RowsAffected() (int64, error) }, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return nil
}

// Currencies

func (r *Repository) CreateCurrency(ctx context.Context, c core.Currency) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO currencies (code, name, symbol, decimal_places)
		VALUES (?, ?, ?, ?)`,
		c.Code, c.Name, c.Symbol, c.DecimalPlaces)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("currency %s: %w", c.Code, core.ErrDuplicate)
		}
		return fmt.Errorf("insert currency: %w", err)
	}
	return nil
}

func (r *Repository) GetCurrency(ctx context.Context, code string) (*core.Currency, error) {
	var c core.Currency
	err := r.db.QueryRowContext(ctx, `
		SELECT code, name, symbol, decimal_places FROM currencies WHERE code = ?`,
		code).Scan(&c.Code, &c.Name, &c.Symbol, &c.DecimalPlaces)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("currency %s", code))
	}
	return &c, nil
}

func (r *Repository) ListCurrencies(ctx context.Context) ([]core.Currency, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT code, name, symbol, decimal_places FROM currencies ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	defer rows.Close()

	var currencies []core.Currency
	for rows.Next() {
		var c core.Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.Symbol, &c.DecimalPlaces); err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}
