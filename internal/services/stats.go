package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"tally/internal/core"

	"github.com/shopspring/decimal"
)

// StatsStore is the read surface the statistics service aggregates over.
type StatsStore interface {
	ListAccounts(ctx context.Context, includeArchived bool) ([]core.Account, error)
	ListBalanceSnapshots(ctx context.Context) (map[int64]decimal.Decimal, error)
	ComputeAccountBalance(ctx context.Context, accountID int64) (decimal.Decimal, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
	GetCategory(ctx context.Context, id int64) (*core.Category, error)
}

// RateConverter resolves one exchange rate; satisfied by RateService.
type RateConverter interface {
	GetRate(ctx context.Context, from, to string, on core.Date) (decimal.Decimal, error)
}

// StatsService answers balance and period questions. Reads only.
type StatsService struct {
	storage StatsStore
	rates   RateConverter
}

func NewStatsService(storage StatsStore, rates RateConverter) *StatsService {
	return &StatsService{storage: storage, rates: rates}
}

// AccountBalances returns every active account's balance in its own
// currency. The worker-maintained snapshot is preferred; accounts without
// one fall back to a ledger walk.
func (s *StatsService) AccountBalances(ctx context.Context) ([]core.AccountBalance, error) {
	accounts, err := s.storage.ListAccounts(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	snapshots, err := s.storage.ListBalanceSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load balance snapshots: %w", err)
	}

	balances := make([]core.AccountBalance, 0, len(accounts))
	for _, account := range accounts {
		balance, ok := snapshots[account.ID]
		if !ok {
			if balance, err = s.storage.ComputeAccountBalance(ctx, account.ID); err != nil {
				return nil, fmt.Errorf("compute balance for account %d: %w", account.ID, err)
			}
		}
		balances = append(balances, core.AccountBalance{
			AccountID:    account.ID,
			Name:         account.Name,
			CurrencyCode: account.CurrencyCode,
			Balance:      balance,
		})
	}
	return balances, nil
}

// TotalBalance sums every active account's balance converted into one
// currency, valued at today's rate.
func (s *StatsService) TotalBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = normalizeCurrency(currency)
	if currency == "" {
		return decimal.Decimal{}, core.Validationf("currency", "is required")
	}

	balances, err := s.AccountBalances(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	today := core.Today()
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(s.convert(ctx, b.Balance, b.CurrencyCode, currency, today))
	}
	return total, nil
}

// PeriodSummary aggregates income and expense over [from, to]. With a
// target currency every amount is converted at its transaction date;
// without one the native amounts are summed as-is. Transfers move money
// between own accounts and stay out of the summary; uncategorized amounts
// count in the totals but have no breakdown row.
func (s *StatsService) PeriodSummary(ctx context.Context, from, to core.Date, currency string) (*core.PeriodSummary, error) {
	if from.IsZero() || to.IsZero() {
		return nil, core.Validationf("period", "from and to are required")
	}
	if to.Before(from) {
		return nil, core.Validationf("period", "to must not precede from")
	}
	currency = normalizeCurrency(currency)

	transactions, err := s.storage.ListTransactions(ctx, TransactionFilter{From: &from, To: &to})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	currencyOf, err := s.accountCurrencies(ctx)
	if err != nil {
		return nil, err
	}

	summary := &core.PeriodSummary{From: from, To: to}
	byCategory := make(map[int64]decimal.Decimal)
	for _, tx := range transactions {
		if tx.Type == core.Transfer {
			continue
		}

		amount := tx.Amount
		if currency != "" {
			amount = s.convert(ctx, amount, currencyOf[tx.AccountID], currency, tx.Date)
		}

		switch tx.Type {
		case core.Income:
			summary.TotalIncome = summary.TotalIncome.Add(amount)
		case core.Expense:
			summary.TotalExpense = summary.TotalExpense.Add(amount)
		}
		if tx.CategoryID != nil {
			byCategory[*tx.CategoryID] = byCategory[*tx.CategoryID].Add(amount)
		}
	}
	summary.Net = summary.TotalIncome.Sub(summary.TotalExpense)

	if summary.ByCategory, err = s.categoryBreakdown(ctx, byCategory); err != nil {
		return nil, err
	}
	return summary, nil
}

// convert values amount in the target currency, falling back to the
// unconverted amount when no rate resolves: a gap in the rate store must
// not blank out the whole report.
func (s *StatsService) convert(ctx context.Context, amount decimal.Decimal, from, to string, on core.Date) decimal.Decimal {
	if from == "" || from == to || amount.IsZero() {
		return amount
	}
	rate, err := s.rates.GetRate(ctx, from, to, on)
	if err != nil {
		if !errors.Is(err, core.ErrRateUnavailable) {
			slog.ErrorContext(ctx, "Rate lookup failed", "from", from, "to", to, "error", err)
		} else {
			slog.WarnContext(ctx, "No rate for summary conversion, using raw amount",
				"from", from, "to", to, "date", on.String())
		}
		return amount
	}
	return core.RoundAmount(amount.Mul(rate))
}

func (s *StatsService) accountCurrencies(ctx context.Context) (map[int64]string, error) {
	accounts, err := s.storage.ListAccounts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	currencies := make(map[int64]string, len(accounts))
	for _, a := range accounts {
		currencies[a.ID] = a.CurrencyCode
	}
	return currencies, nil
}

// categoryBreakdown resolves names for the aggregated category amounts,
// ordered income before expense, larger amounts first. Archived categories
// still resolve; their history doesn't disappear from reports.
func (s *StatsService) categoryBreakdown(ctx context.Context, sums map[int64]decimal.Decimal) ([]core.CategoryAmount, error) {
	breakdown := make([]core.CategoryAmount, 0, len(sums))
	for id, amount := range sums {
		category, err := s.storage.GetCategory(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", id, err)
		}
		breakdown = append(breakdown, core.CategoryAmount{
			CategoryID: id,
			Name:       category.Name,
			Type:       category.Type,
			Amount:     amount,
		})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].Type != breakdown[j].Type {
			return breakdown[i].Type == core.CategoryIncome
		}
		if !breakdown[i].Amount.Equal(breakdown[j].Amount) {
			return breakdown[i].Amount.GreaterThan(breakdown[j].Amount)
		}
		return breakdown[i].CategoryID < breakdown[j].CategoryID
	})
	return breakdown, nil
}
