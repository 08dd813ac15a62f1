package services

import (
	"context"
	"fmt"
	"testing"

	"tally/internal/core"

	"github.com/shopspring/decimal"
)

type fakeStatsStore struct {
	accounts     []core.Account
	snapshots    map[int64]decimal.Decimal
	computed     map[int64]decimal.Decimal
	transactions []core.Transaction
	categories   map[int64]core.Category

	computeCalls []int64
	lastFilter   TransactionFilter
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{
		snapshots:  map[int64]decimal.Decimal{},
		computed:   map[int64]decimal.Decimal{},
		categories: map[int64]core.Category{},
	}
}

func (s *fakeStatsStore) ListAccounts(_ context.Context, includeArchived bool) ([]core.Account, error) {
	if includeArchived {
		return s.accounts, nil
	}
	var active []core.Account
	for _, a := range s.accounts {
		if !a.IsArchived {
			active = append(active, a)
		}
	}
	return active, nil
}

func (s *fakeStatsStore) ListBalanceSnapshots(_ context.Context) (map[int64]decimal.Decimal, error) {
	return s.snapshots, nil
}

func (s *fakeStatsStore) ComputeAccountBalance(_ context.Context, accountID int64) (decimal.Decimal, error) {
	s.computeCalls = append(s.computeCalls, accountID)
	return s.computed[accountID], nil
}

func (s *fakeStatsStore) ListTransactions(_ context.Context, f TransactionFilter) ([]core.Transaction, error) {
	s.lastFilter = f
	var out []core.Transaction
	for _, tx := range s.transactions {
		if f.From != nil && tx.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && tx.Date.After(*f.To) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *fakeStatsStore) GetCategory(_ context.Context, id int64) (*core.Category, error) {
	c, ok := s.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	return &c, nil
}

// fakeConverter resolves from->to pairs out of a fixed table; anything else
// is a rate miss.
type fakeConverter struct {
	rates map[string]decimal.Decimal
	calls int
}

func (c *fakeConverter) GetRate(_ context.Context, from, to string, _ core.Date) (decimal.Decimal, error) {
	c.calls++
	if rate, ok := c.rates[from+"->"+to]; ok {
		return rate, nil
	}
	return decimal.Decimal{}, fmt.Errorf("%w: %s->%s", core.ErrRateUnavailable, from, to)
}

func TestStatsServiceAccountBalances(t *testing.T) {
	store := newFakeStatsStore()
	store.accounts = []core.Account{
		{ID: 1, Name: "Checking", CurrencyCode: "EUR"},
		{ID: 2, Name: "Cash", CurrencyCode: "USD"},
		{ID: 3, Name: "Old", CurrencyCode: "EUR", IsArchived: true},
	}
	store.snapshots[1] = dec("99.95")
	store.computed[2] = dec("55")

	svc := NewStatsService(store, &fakeConverter{})
	balances, err := svc.AccountBalances(context.Background())
	if err != nil {
		t.Fatalf("AccountBalances() error = %v", err)
	}

	if len(balances) != 2 {
		t.Fatalf("balances = %d, want 2 (archived excluded)", len(balances))
	}
	if !balances[0].Balance.Equal(dec("99.95")) {
		t.Errorf("snapshot balance = %s, want 99.95", balances[0].Balance)
	}
	if !balances[1].Balance.Equal(dec("55")) || balances[1].CurrencyCode != "USD" {
		t.Errorf("computed balance = %s %s", balances[1].Balance, balances[1].CurrencyCode)
	}
	// Only the snapshotless account hits the ledger walk.
	if len(store.computeCalls) != 1 || store.computeCalls[0] != 2 {
		t.Errorf("computeCalls = %v, want [2]", store.computeCalls)
	}
}

func TestStatsServiceTotalBalance(t *testing.T) {
	store := newFakeStatsStore()
	store.accounts = []core.Account{
		{ID: 1, Name: "Checking", CurrencyCode: "EUR"},
		{ID: 2, Name: "Cash", CurrencyCode: "USD"},
	}
	store.snapshots[1] = dec("100")
	store.snapshots[2] = dec("50")
	converter := &fakeConverter{rates: map[string]decimal.Decimal{"USD->EUR": dec("0.8")}}

	svc := NewStatsService(store, converter)
	total, err := svc.TotalBalance(context.Background(), "eur")
	if err != nil {
		t.Fatalf("TotalBalance() error = %v", err)
	}
	if !total.Equal(dec("140")) {
		t.Errorf("TotalBalance() = %s, want 140", total)
	}
	// The EUR balance needs no rate.
	if converter.calls != 1 {
		t.Errorf("rate lookups = %d, want 1", converter.calls)
	}

	if _, err := svc.TotalBalance(context.Background(), "  "); !core.IsValidation(err) {
		t.Errorf("TotalBalance(blank) error = %v, want validation", err)
	}
}

func TestStatsServiceTotalBalanceRateMiss(t *testing.T) {
	store := newFakeStatsStore()
	store.accounts = []core.Account{
		{ID: 1, Name: "Checking", CurrencyCode: "EUR"},
		{ID: 2, Name: "Exotic", CurrencyCode: "KZT"},
	}
	store.snapshots[1] = dec("100")
	store.snapshots[2] = dec("5000")

	svc := NewStatsService(store, &fakeConverter{})
	total, err := svc.TotalBalance(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("TotalBalance() error = %v", err)
	}
	// The unresolvable balance rides along unconverted.
	if !total.Equal(dec("5100")) {
		t.Errorf("TotalBalance() = %s, want 5100", total)
	}
}

func statsFixtureStore() *fakeStatsStore {
	store := newFakeStatsStore()
	store.accounts = []core.Account{
		{ID: 1, Name: "EUR account", CurrencyCode: "EUR"},
		{ID: 2, Name: "USD account", CurrencyCode: "USD"},
	}
	store.categories[10] = core.Category{ID: 10, Name: "Salary", Type: core.CategoryIncome}
	store.categories[20] = core.Category{ID: 20, Name: "Rent", Type: core.CategoryExpense}

	salary, rent := int64(10), int64(20)
	target := int64(2)
	store.transactions = []core.Transaction{
		{ID: 1, Type: core.Income, AccountID: 1, CategoryID: &salary,
			Amount: dec("1000"), Date: core.NewDate(2024, 3, 1)},
		{ID: 2, Type: core.Expense, AccountID: 1, CategoryID: &rent,
			Amount: dec("300"), Date: core.NewDate(2024, 3, 2)},
		{ID: 3, Type: core.Expense, AccountID: 2, CategoryID: &rent,
			Amount: dec("25"), Date: core.NewDate(2024, 3, 3)},
		{ID: 4, Type: core.Transfer, AccountID: 1, TargetAccountID: &target,
			Amount: dec("500"), Date: core.NewDate(2024, 3, 4)},
		{ID: 5, Type: core.Expense, AccountID: 1,
			Amount: dec("10"), Date: core.NewDate(2024, 3, 5)},
		// Outside the queried period.
		{ID: 6, Type: core.Expense, AccountID: 1, CategoryID: &rent,
			Amount: dec("999"), Date: core.NewDate(2024, 4, 1)},
	}
	return store
}

func TestStatsServicePeriodSummaryConverted(t *testing.T) {
	store := statsFixtureStore()
	converter := &fakeConverter{rates: map[string]decimal.Decimal{"USD->EUR": dec("0.8")}}
	svc := NewStatsService(store, converter)

	summary, err := svc.PeriodSummary(context.Background(),
		core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 31), "EUR")
	if err != nil {
		t.Fatalf("PeriodSummary() error = %v", err)
	}

	if !summary.TotalIncome.Equal(dec("1000")) {
		t.Errorf("TotalIncome = %s, want 1000", summary.TotalIncome)
	}
	// 300 EUR + 25 USD * 0.8 + 10 EUR uncategorized.
	if !summary.TotalExpense.Equal(dec("330")) {
		t.Errorf("TotalExpense = %s, want 330", summary.TotalExpense)
	}
	if !summary.Net.Equal(dec("670")) {
		t.Errorf("Net = %s, want 670", summary.Net)
	}

	if len(summary.ByCategory) != 2 {
		t.Fatalf("ByCategory = %d entries, want 2", len(summary.ByCategory))
	}
	if summary.ByCategory[0].Name != "Salary" || !summary.ByCategory[0].Amount.Equal(dec("1000")) {
		t.Errorf("ByCategory[0] = %+v, want Salary 1000 first", summary.ByCategory[0])
	}
	if summary.ByCategory[1].Name != "Rent" || !summary.ByCategory[1].Amount.Equal(dec("320")) {
		t.Errorf("ByCategory[1] = %+v, want Rent 320", summary.ByCategory[1])
	}

	// The transfer and only the USD expense needed no/one conversion.
	if converter.calls != 1 {
		t.Errorf("rate lookups = %d, want 1", converter.calls)
	}
}

func TestStatsServicePeriodSummaryNativeAmounts(t *testing.T) {
	store := statsFixtureStore()
	converter := &fakeConverter{}
	svc := NewStatsService(store, converter)

	summary, err := svc.PeriodSummary(context.Background(),
		core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 31), "")
	if err != nil {
		t.Fatalf("PeriodSummary() error = %v", err)
	}

	// Without a target currency amounts add up as-is.
	if !summary.TotalExpense.Equal(dec("335")) {
		t.Errorf("TotalExpense = %s, want 335", summary.TotalExpense)
	}
	if converter.calls != 0 {
		t.Errorf("rate lookups = %d, want none", converter.calls)
	}
}

func TestStatsServicePeriodSummaryRateMissFallsBack(t *testing.T) {
	store := statsFixtureStore()
	svc := NewStatsService(store, &fakeConverter{})

	summary, err := svc.PeriodSummary(context.Background(),
		core.NewDate(2024, 3, 1), core.NewDate(2024, 3, 31), "EUR")
	if err != nil {
		t.Fatalf("PeriodSummary() error = %v", err)
	}
	// The USD expense keeps its face value when no rate resolves.
	if !summary.TotalExpense.Equal(dec("335")) {
		t.Errorf("TotalExpense = %s, want 335", summary.TotalExpense)
	}
}

func TestStatsServicePeriodSummaryValidation(t *testing.T) {
	svc := NewStatsService(newFakeStatsStore(), &fakeConverter{})
	ctx := context.Background()

	cases := []struct {
		name string
		from core.Date
		to   core.Date
	}{
		{"zero from", core.Date{}, core.NewDate(2024, 3, 31)},
		{"zero to", core.NewDate(2024, 3, 1), core.Date{}},
		{"inverted range", core.NewDate(2024, 3, 31), core.NewDate(2024, 3, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.PeriodSummary(ctx, tc.from, tc.to, ""); !core.IsValidation(err) {
				t.Errorf("PeriodSummary() error = %v, want validation", err)
			}
		})
	}
}
