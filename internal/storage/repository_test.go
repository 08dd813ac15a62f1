package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/services"

	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: dec(s), Valid: true}
}

func seedAccount(t *testing.T, repo *Repository, name, currency string) int64 {
	t.Helper()
	id, err := repo.CreateAccount(context.Background(), core.Account{Name: name, CurrencyCode: currency})
	if err != nil {
		t.Fatalf("CreateAccount(%q) error = %v", name, err)
	}
	return id
}

func seedCategory(t *testing.T, repo *Repository, name string, ct core.CategoryType) int64 {
	t.Helper()
	id, err := repo.CreateCategory(context.Background(), core.Category{Name: name, Type: ct})
	if err != nil {
		t.Fatalf("CreateCategory(%q) error = %v", name, err)
	}
	return id
}

func seedTransaction(t *testing.T, repo *Repository, tx core.Transaction) int64 {
	t.Helper()
	id, err := repo.CreateTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	return id
}

func TestRepositoryMigrationsSeedCatalog(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	currencies, err := repo.ListCurrencies(ctx)
	if err != nil {
		t.Fatalf("ListCurrencies() error = %v", err)
	}
	if len(currencies) < 3 {
		t.Fatalf("seeded currencies = %d, want at least 3", len(currencies))
	}
	eur, err := repo.GetCurrency(ctx, "EUR")
	if err != nil {
		t.Fatalf("GetCurrency(EUR) error = %v", err)
	}
	if eur.Symbol != "€" || eur.DecimalPlaces != 2 {
		t.Errorf("EUR = %+v, want symbol € and 2 decimal places", eur)
	}

	categories, err := repo.ListCategories(ctx, nil)
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(categories) == 0 {
		t.Fatal("expected seeded categories")
	}

	if err := repo.CreateCurrency(ctx, core.Currency{Code: "EUR", Name: "Euro"}); !errors.Is(err, core.ErrDuplicate) {
		t.Errorf("CreateCurrency(EUR) error = %v, want ErrDuplicate", err)
	}
}

func TestRepositoryAccountLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id := seedAccount(t, repo, "Checking", "EUR")

	account, err := repo.GetAccount(ctx, id)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if account.Name != "Checking" || account.CurrencyCode != "EUR" || account.IsArchived {
		t.Errorf("account = %+v", account)
	}
	if account.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	account.Name = "Main checking"
	account.IsArchived = true
	if err := repo.UpdateAccount(ctx, *account); err != nil {
		t.Fatalf("UpdateAccount() error = %v", err)
	}

	active, err := repo.ListAccounts(ctx, false)
	if err != nil {
		t.Fatalf("ListAccounts(false) error = %v", err)
	}
	for _, a := range active {
		if a.ID == id {
			t.Error("archived account shows in active listing")
		}
	}
	all, err := repo.ListAccounts(ctx, true)
	if err != nil {
		t.Fatalf("ListAccounts(true) error = %v", err)
	}
	if len(all) != len(active)+1 {
		t.Errorf("all = %d, active = %d, want one archived extra", len(all), len(active))
	}

	if _, err := repo.GetAccount(ctx, 9999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetAccount(9999) error = %v, want ErrNotFound", err)
	}
	if err := repo.UpdateAccount(ctx, core.Account{ID: 9999, Name: "ghost", CurrencyCode: "EUR"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("UpdateAccount(9999) error = %v, want ErrNotFound", err)
	}
}

func TestRepositoryDeleteAccountGuard(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id := seedAccount(t, repo, "Guarded", "EUR")
	txID := seedTransaction(t, repo, core.Transaction{
		Type:        core.Income,
		AccountID:   id,
		Amount:      dec("10"),
		Description: "salary",
		Date:        core.NewDate(2024, 3, 1),
	})

	if err := repo.DeleteAccount(ctx, id); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("DeleteAccount() with ledger history error = %v, want ErrInvalidState", err)
	}

	// Soft-deleted transactions no longer block the account.
	if err := repo.DeleteTransaction(ctx, txID); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}
	if err := repo.DeleteAccount(ctx, id); err != nil {
		t.Fatalf("DeleteAccount() after clearing history error = %v", err)
	}
	if _, err := repo.GetAccount(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetAccount() after delete error = %v, want ErrNotFound", err)
	}
}

func TestRepositoryCategoryUniqueness(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedCategory(t, repo, "Freelance", core.CategoryIncome)

	if _, err := repo.CreateCategory(ctx, core.Category{Name: "Freelance", Type: core.CategoryIncome}); !errors.Is(err, core.ErrDuplicate) {
		t.Errorf("duplicate name+type error = %v, want ErrDuplicate", err)
	}
	// Same name on the other side is a different category.
	if _, err := repo.CreateCategory(ctx, core.Category{Name: "Freelance", Type: core.CategoryExpense}); err != nil {
		t.Errorf("same name, expense type error = %v", err)
	}

	incomeType := core.CategoryIncome
	incomeOnly, err := repo.ListCategories(ctx, &incomeType)
	if err != nil {
		t.Fatalf("ListCategories(income) error = %v", err)
	}
	for _, c := range incomeOnly {
		if c.Type != core.CategoryIncome {
			t.Errorf("income listing contains %s category %q", c.Type, c.Name)
		}
	}
}

func TestRepositoryDeleteCategoryGuard(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	accountID := seedAccount(t, repo, "Wallet", "EUR")
	categoryID := seedCategory(t, repo, "Hobbies", core.CategoryExpense)

	_, err := repo.CreateTemplate(ctx, core.RecurringTemplate{
		Type:        core.Expense,
		AccountID:   accountID,
		CategoryID:  &categoryID,
		Amount:      dec("9.99"),
		Description: "club fee",
		Frequency:   core.Monthly,
		DayOfMonth:  intPtr(1),
		StartDate:   core.NewDate(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	if err := repo.DeleteCategory(ctx, categoryID); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("DeleteCategory() with references error = %v, want ErrInvalidState", err)
	}

	unused := seedCategory(t, repo, "Unused", core.CategoryExpense)
	if err := repo.DeleteCategory(ctx, unused); err != nil {
		t.Errorf("DeleteCategory() unused error = %v", err)
	}
}

func TestRepositoryTransactionIdempotencyKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	accountID := seedAccount(t, repo, "Spending", "EUR")
	base := core.Transaction{
		Type:        core.Expense,
		AccountID:   accountID,
		Amount:      dec("42.50"),
		Description: "groceries run",
		Date:        core.NewDate(2024, 3, 10),
	}

	keyed := base
	keyed.IdempotencyKey = "shopping:7"
	id := seedTransaction(t, repo, keyed)

	if _, err := repo.CreateTransaction(ctx, keyed); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("second insert with same key error = %v, want ErrDuplicate", err)
	}

	found, err := repo.GetTransactionByKey(ctx, "shopping:7")
	if err != nil {
		t.Fatalf("GetTransactionByKey() error = %v", err)
	}
	if found.ID != id {
		t.Errorf("GetTransactionByKey() id = %d, want %d", found.ID, id)
	}
	if found.IdempotencyKey != "shopping:7" {
		t.Errorf("IdempotencyKey = %q", found.IdempotencyKey)
	}

	// Keyless rows never collide with each other.
	seedTransaction(t, repo, base)
	seedTransaction(t, repo, base)

	if _, err := repo.GetTransactionByKey(ctx, "no-such-key"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetTransactionByKey(miss) error = %v, want ErrNotFound", err)
	}
}

func TestRepositoryTransactionSoftDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	accountID := seedAccount(t, repo, "Daily", "EUR")
	tx := core.Transaction{
		Type:           core.Expense,
		AccountID:      accountID,
		Amount:         dec("5"),
		Description:    "coffee",
		Date:           core.NewDate(2024, 3, 10),
		IdempotencyKey: "manual:1",
	}
	id := seedTransaction(t, repo, tx)

	if err := repo.DeleteTransaction(ctx, id); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}

	if _, err := repo.GetTransaction(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetTransaction() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetTransactionByKey(ctx, "manual:1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetTransactionByKey() after delete error = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteTransaction(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("double delete error = %v, want ErrNotFound", err)
	}

	list, err := repo.ListTransactions(ctx, services.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(list) != 0 {
		t.Errorf("listing after delete = %d rows, want 0", len(list))
	}
}

func TestRepositoryListTransactionsFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	checking := seedAccount(t, repo, "Checking", "EUR")
	savings := seedAccount(t, repo, "Savings", "USD")
	food := seedCategory(t, repo, "Food out", core.CategoryExpense)
	salary := seedCategory(t, repo, "Contract work", core.CategoryIncome)

	seedTransaction(t, repo, core.Transaction{
		Type: core.Income, AccountID: checking, CategoryID: &salary,
		Amount: dec("1000"), Description: "invoice", Date: core.NewDate(2024, 3, 1),
	})
	seedTransaction(t, repo, core.Transaction{
		Type: core.Expense, AccountID: checking, CategoryID: &food,
		Amount: dec("25"), Description: "lunch", Date: core.NewDate(2024, 3, 5),
	})
	seedTransaction(t, repo, core.Transaction{
		Type: core.Transfer, AccountID: checking, TargetAccountID: &savings,
		Amount: dec("200"), ConvertedAmount: nd("216"), ExchangeRate: nd("1.08"),
		Description: "stash", Date: core.NewDate(2024, 3, 8),
	})
	seedTransaction(t, repo, core.Transaction{
		Type: core.Expense, AccountID: savings, CategoryID: &food,
		Amount: dec("12"), Description: "snack", Date: core.NewDate(2024, 3, 12),
	})

	expense := core.Expense
	from := core.NewDate(2024, 3, 5)
	to := core.NewDate(2024, 3, 8)

	tests := []struct {
		name   string
		filter services.TransactionFilter
		want   int
	}{
		{"everything", services.TransactionFilter{}, 4},
		{"date range", services.TransactionFilter{From: &from, To: &to}, 2},
		{"savings as source or target", services.TransactionFilter{AccountID: &savings}, 2},
		{"food category", services.TransactionFilter{CategoryID: &food}, 2},
		{"expenses only", services.TransactionFilter{Type: &expense}, 2},
		{"limit", services.TransactionFilter{Limit: 3}, 3},
		{"limit with offset", services.TransactionFilter{Limit: 3, Offset: 3}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListTransactions(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTransactions() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("ListTransactions() = %d rows, want %d", len(got), tt.want)
			}
		})
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := repo.ListTransactions(ctx, services.TransactionFilter{})
		if err != nil {
			t.Fatalf("ListTransactions() error = %v", err)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Date.After(got[i-1].Date) {
				t.Errorf("row %d (%s) newer than row %d (%s)", i, got[i].Date, i-1, got[i-1].Date)
			}
		}
	})

	t.Run("transfer round-trips", func(t *testing.T) {
		got, err := repo.ListTransactions(ctx, services.TransactionFilter{AccountID: &savings})
		if err != nil {
			t.Fatalf("ListTransactions() error = %v", err)
		}
		var transfer *core.Transaction
		for i := range got {
			if got[i].Type == core.Transfer {
				transfer = &got[i]
			}
		}
		if transfer == nil {
			t.Fatal("transfer not found via target account filter")
		}
		if transfer.TargetAccountID == nil || *transfer.TargetAccountID != savings {
			t.Errorf("TargetAccountID = %v", transfer.TargetAccountID)
		}
		if !transfer.ConvertedAmount.Valid || !transfer.ConvertedAmount.Decimal.Equal(dec("216")) {
			t.Errorf("ConvertedAmount = %v", transfer.ConvertedAmount)
		}
		if !transfer.ExchangeRate.Valid || !transfer.ExchangeRate.Decimal.Equal(dec("1.08")) {
			t.Errorf("ExchangeRate = %v", transfer.ExchangeRate)
		}
	})
}

func TestRepositoryTemplateScheduling(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	accountID := seedAccount(t, repo, "Bills", "EUR")
	categoryID := seedCategory(t, repo, "Subscriptions", core.CategoryExpense)

	next := core.NewDate(2024, 3, 10)
	id, err := repo.CreateTemplate(ctx, core.RecurringTemplate{
		Type:          core.Expense,
		AccountID:     accountID,
		CategoryID:    &categoryID,
		Amount:        dec("15.99"),
		Description:   "streaming",
		Frequency:     core.Monthly,
		DayOfMonth:    intPtr(10),
		StartDate:     core.NewDate(2024, 1, 10),
		IsActive:      true,
		NextExecution: &next,
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}

	pendingAt := func(day core.Date) int {
		t.Helper()
		pending, err := repo.ListPendingTemplates(ctx, day)
		if err != nil {
			t.Fatalf("ListPendingTemplates() error = %v", err)
		}
		return len(pending)
	}

	if got := pendingAt(core.NewDate(2024, 3, 9)); got != 0 {
		t.Errorf("pending before due = %d, want 0", got)
	}
	if got := pendingAt(core.NewDate(2024, 3, 10)); got != 1 {
		t.Errorf("pending on due date = %d, want 1", got)
	}
	if got := pendingAt(core.NewDate(2024, 4, 1)); got != 1 {
		t.Errorf("pending after due date = %d, want 1", got)
	}

	// Executing moves the cursor forward.
	advanced := core.NewDate(2024, 4, 10)
	if err := repo.AdvanceTemplate(ctx, id, core.NewDate(2024, 3, 10), &advanced); err != nil {
		t.Fatalf("AdvanceTemplate() error = %v", err)
	}
	tpl, err := repo.GetTemplate(ctx, id)
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if tpl.LastExecutedAt == nil || !tpl.LastExecutedAt.Equal(core.NewDate(2024, 3, 10)) {
		t.Errorf("LastExecutedAt = %v", tpl.LastExecutedAt)
	}
	if tpl.NextExecution == nil || !tpl.NextExecution.Equal(advanced) {
		t.Errorf("NextExecution = %v, want %s", tpl.NextExecution, advanced)
	}
	if got := pendingAt(core.NewDate(2024, 3, 15)); got != 0 {
		t.Errorf("pending after advance = %d, want 0", got)
	}

	// Deactivation hides the template from the pending scan.
	if err := repo.SetTemplateActive(ctx, id, false, nil); err != nil {
		t.Fatalf("SetTemplateActive(false) error = %v", err)
	}
	if got := pendingAt(core.NewDate(2024, 5, 1)); got != 0 {
		t.Errorf("pending while inactive = %d, want 0", got)
	}

	// Reactivation restores it with a fresh cursor.
	fresh := core.NewDate(2024, 5, 10)
	if err := repo.SetTemplateActive(ctx, id, true, &fresh); err != nil {
		t.Fatalf("SetTemplateActive(true) error = %v", err)
	}
	if got := pendingAt(core.NewDate(2024, 5, 10)); got != 1 {
		t.Errorf("pending after reactivation = %d, want 1", got)
	}

	// An exhausted schedule (nil next) never shows up.
	if err := repo.AdvanceTemplate(ctx, id, core.NewDate(2024, 5, 10), nil); err != nil {
		t.Fatalf("AdvanceTemplate(nil) error = %v", err)
	}
	if got := pendingAt(core.NewDate(2099, 1, 1)); got != 0 {
		t.Errorf("pending when exhausted = %d, want 0", got)
	}

	if err := repo.DeleteTemplate(ctx, id); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if _, err := repo.GetTemplate(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetTemplate() after delete error = %v, want ErrNotFound", err)
	}
}

func TestRepositoryShoppingListLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	accountID := seedAccount(t, repo, "Groceries card", "EUR")
	categoryID := seedCategory(t, repo, "Weekly shop", core.CategoryExpense)

	listID, err := repo.CreateList(ctx, core.ShoppingList{
		Name:       "Saturday market",
		AccountID:  accountID,
		CategoryID: categoryID,
		Items: []core.ShoppingItem{
			{Name: "Apples", Quantity: 6},
			{Name: "Bread", Quantity: 1, Price: nd("3.20")},
		},
	})
	if err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}

	list, err := repo.GetList(ctx, listID)
	if err != nil {
		t.Fatalf("GetList() error = %v", err)
	}
	if list.Status != core.ListDraft {
		t.Errorf("status = %s, want draft", list.Status)
	}
	if len(list.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(list.Items))
	}
	if !list.Items[1].Price.Valid || !list.Items[1].Price.Decimal.Equal(dec("3.20")) {
		t.Errorf("bread price = %v", list.Items[1].Price)
	}

	// draft -> confirmed
	confirmedAt := time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC)
	if err := repo.SetListConfirmed(ctx, listID, confirmedAt); err != nil {
		t.Fatalf("SetListConfirmed() error = %v", err)
	}
	if err := repo.SetListConfirmed(ctx, listID, confirmedAt); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("confirming a confirmed list error = %v, want ErrInvalidState", err)
	}
	list, _ = repo.GetList(ctx, listID)
	if list.ConfirmedAt == nil {
		t.Fatal("ConfirmedAt not set")
	}

	// Check an item, then revert: the check mark must not survive.
	item := list.Items[0]
	item.IsChecked = true
	if err := repo.UpdateItem(ctx, item); err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}
	if err := repo.SetListDraft(ctx, listID); err != nil {
		t.Fatalf("SetListDraft() error = %v", err)
	}
	list, _ = repo.GetList(ctx, listID)
	if list.Status != core.ListDraft || list.ConfirmedAt != nil {
		t.Errorf("after revert: status = %s, confirmedAt = %v", list.Status, list.ConfirmedAt)
	}
	for _, it := range list.Items {
		if it.IsChecked {
			t.Errorf("item %q still checked after revert", it.Name)
		}
	}

	// Completing requires the confirmed state.
	txID := int64(77)
	if err := repo.MarkListCompleted(ctx, listID, dec("23.40"), &txID, time.Now().UTC()); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("completing a draft error = %v, want ErrInvalidState", err)
	}
	if err := repo.SetListConfirmed(ctx, listID, time.Now().UTC()); err != nil {
		t.Fatalf("SetListConfirmed() error = %v", err)
	}
	if err := repo.MarkListCompleted(ctx, listID, dec("23.40"), &txID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkListCompleted() error = %v", err)
	}

	list, _ = repo.GetList(ctx, listID)
	if list.Status != core.ListCompleted {
		t.Errorf("status = %s, want completed", list.Status)
	}
	if !list.TotalAmount.Valid || !list.TotalAmount.Decimal.Equal(dec("23.40")) {
		t.Errorf("TotalAmount = %v", list.TotalAmount)
	}
	if list.TransactionID == nil || *list.TransactionID != txID {
		t.Errorf("TransactionID = %v, want %d", list.TransactionID, txID)
	}
	if list.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	completed := core.ListCompleted
	byStatus, err := repo.ListLists(ctx, &completed)
	if err != nil {
		t.Fatalf("ListLists(completed) error = %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != listID {
		t.Errorf("completed listing = %+v", byStatus)
	}
	if len(byStatus[0].Items) != 2 {
		t.Errorf("listing items = %d, want 2", len(byStatus[0].Items))
	}
}

func TestRepositoryShoppingItemsScopedToList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	accountID := seedAccount(t, repo, "Card", "EUR")
	categoryID := seedCategory(t, repo, "Food shop", core.CategoryExpense)

	listA, _ := repo.CreateList(ctx, core.ShoppingList{Name: "A", AccountID: accountID, CategoryID: categoryID})
	listB, _ := repo.CreateList(ctx, core.ShoppingList{Name: "B", AccountID: accountID, CategoryID: categoryID})

	itemID, err := repo.AddItem(ctx, core.ShoppingItem{ListID: listA, Name: "Milk", Quantity: 2})
	if err != nil {
		t.Fatalf("AddItem() error = %v", err)
	}

	// The item is invisible through the wrong list.
	if _, err := repo.GetItem(ctx, listB, itemID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetItem() via wrong list error = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteItem(ctx, listB, itemID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("DeleteItem() via wrong list error = %v, want ErrNotFound", err)
	}

	if err := repo.DeleteItem(ctx, listA, itemID); err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}

	// Deleting a list sweeps its items.
	again, _ := repo.AddItem(ctx, core.ShoppingItem{ListID: listA, Name: "Eggs", Quantity: 1})
	if err := repo.DeleteList(ctx, listA); err != nil {
		t.Fatalf("DeleteList() error = %v", err)
	}
	if _, err := repo.GetItem(ctx, listA, again); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetItem() after list delete error = %v, want ErrNotFound", err)
	}
}

func TestRepositoryShoppingTemplateRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	accountID := seedAccount(t, repo, "Default card", "EUR")

	id, err := repo.CreateShoppingTemplate(ctx, core.ShoppingTemplate{
		Name:             "Weekly basics",
		Icon:             "cart",
		DefaultAccountID: &accountID,
		Items: []core.ShoppingTemplateItem{
			{Name: "Milk", DefaultQuantity: 2, DefaultPrice: nd("1.10")},
			{Name: "Bread", DefaultQuantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateShoppingTemplate() error = %v", err)
	}

	tpl, err := repo.GetShoppingTemplate(ctx, id)
	if err != nil {
		t.Fatalf("GetShoppingTemplate() error = %v", err)
	}
	if len(tpl.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(tpl.Items))
	}
	if tpl.DefaultAccountID == nil || *tpl.DefaultAccountID != accountID {
		t.Errorf("DefaultAccountID = %v", tpl.DefaultAccountID)
	}

	// Update swaps the whole item set.
	tpl.Name = "Weekly basics v2"
	tpl.Items = []core.ShoppingTemplateItem{{Name: "Oat milk", DefaultQuantity: 3}}
	if err := repo.UpdateShoppingTemplate(ctx, *tpl); err != nil {
		t.Fatalf("UpdateShoppingTemplate() error = %v", err)
	}
	tpl, _ = repo.GetShoppingTemplate(ctx, id)
	if tpl.Name != "Weekly basics v2" || len(tpl.Items) != 1 || tpl.Items[0].Name != "Oat milk" {
		t.Errorf("after update: %+v", tpl)
	}

	if err := repo.DeleteShoppingTemplate(ctx, id); err != nil {
		t.Fatalf("DeleteShoppingTemplate() error = %v", err)
	}
	if _, err := repo.GetShoppingTemplate(ctx, id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetShoppingTemplate() after delete error = %v, want ErrNotFound", err)
	}

	all, err := repo.ListShoppingTemplates(ctx)
	if err != nil {
		t.Fatalf("ListShoppingTemplates() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("templates after delete = %d, want 0", len(all))
	}
}

func TestRepositoryNearestRate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	save := func(day core.Date, rate string) {
		t.Helper()
		_, err := repo.SaveRate(ctx, core.ExchangeRate{
			FromCurrency: "EUR", ToCurrency: "USD",
			Rate: dec(rate), Date: day, Source: core.SourceECB,
		})
		if err != nil {
			t.Fatalf("SaveRate() error = %v", err)
		}
	}
	save(core.NewDate(2024, 1, 10), "1.10")
	save(core.NewDate(2024, 1, 12), "1.12")
	save(core.NewDate(2024, 1, 14), "1.14")

	tests := []struct {
		name string
		on   core.Date
		want string
	}{
		{"exact hit", core.NewDate(2024, 1, 12), "1.12"},
		{"closest older", core.NewDate(2024, 1, 10), "1.10"},
		{"tie prefers newer", core.NewDate(2024, 1, 11), "1.12"},
		{"tie prefers newer again", core.NewDate(2024, 1, 13), "1.14"},
		{"far future takes newest", core.NewDate(2024, 6, 1), "1.14"},
		{"far past takes oldest", core.NewDate(2023, 6, 1), "1.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.NearestRate(ctx, "EUR", "USD", tt.on)
			if err != nil {
				t.Fatalf("NearestRate() error = %v", err)
			}
			if !got.Rate.Equal(dec(tt.want)) {
				t.Errorf("NearestRate() = %s on %s, want %s", got.Rate, got.Date, tt.want)
			}
		})
	}

	t.Run("unknown pair", func(t *testing.T) {
		if _, err := repo.NearestRate(ctx, "EUR", "JPY", core.NewDate(2024, 1, 12)); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("NearestRate(miss) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("upsert overwrites the day", func(t *testing.T) {
		saved, err := repo.SaveRate(ctx, core.ExchangeRate{
			FromCurrency: "EUR", ToCurrency: "USD",
			Rate: dec("1.99"), Date: core.NewDate(2024, 1, 12), Source: core.SourceManual,
		})
		if err != nil {
			t.Fatalf("SaveRate() upsert error = %v", err)
		}
		got, err := repo.NearestRate(ctx, "EUR", "USD", core.NewDate(2024, 1, 12))
		if err != nil {
			t.Fatalf("NearestRate() error = %v", err)
		}
		if !got.Rate.Equal(dec("1.99")) || got.Source != core.SourceManual {
			t.Errorf("after upsert: rate = %s source = %s", got.Rate, got.Source)
		}
		if got.ID != saved.ID {
			t.Errorf("upsert id = %d, stored id = %d", saved.ID, got.ID)
		}

		day, err := repo.ListRates(ctx, core.NewDate(2024, 1, 12))
		if err != nil {
			t.Fatalf("ListRates() error = %v", err)
		}
		if len(day) != 1 {
			t.Errorf("rows for the day = %d, want 1", len(day))
		}
	})
}

func TestRepositoryRateRuns(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	day := core.NewDate(2024, 2, 1)

	run, err := repo.EnsureRun(ctx, day, false)
	if err != nil {
		t.Fatalf("EnsureRun() error = %v", err)
	}
	if run.Status != core.RunPending || run.Attempts != 0 {
		t.Errorf("fresh run = %+v", run)
	}

	// The day has one run; asking again returns it.
	again, err := repo.EnsureRun(ctx, day, true)
	if err != nil {
		t.Fatalf("EnsureRun() second call error = %v", err)
	}
	if again.ID != run.ID {
		t.Errorf("second EnsureRun id = %d, want %d", again.ID, run.ID)
	}
	if again.IsBackfill {
		t.Error("existing run flipped to backfill")
	}

	backfill, err := repo.EnsureRun(ctx, day.AddDays(-1), true)
	if err != nil {
		t.Fatalf("EnsureRun(backfill) error = %v", err)
	}
	if !backfill.IsBackfill {
		t.Error("backfill flag not stored")
	}

	due, err := repo.DueRuns(ctx, 10)
	if err != nil {
		t.Fatalf("DueRuns() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due runs = %d, want 2", len(due))
	}
	if !due[0].RunDate.Equal(day.AddDays(-1)) {
		t.Errorf("due[0] = %s, want oldest day first", due[0].RunDate)
	}

	running, err := repo.MarkRunRunning(ctx, run.ID)
	if err != nil {
		t.Fatalf("MarkRunRunning() error = %v", err)
	}
	if running.Status != core.RunRunning || running.Attempts != 1 || running.StartedAt == nil {
		t.Errorf("running = %+v", running)
	}

	// A crashed collector leaves running rows; reset turns them pending.
	if err := repo.ResetStaleRuns(ctx); err != nil {
		t.Fatalf("ResetStaleRuns() error = %v", err)
	}
	due, _ = repo.DueRuns(ctx, 10)
	if len(due) != 2 {
		t.Errorf("due after reset = %d, want 2", len(due))
	}

	if err := repo.RequeueRun(ctx, run.ID, "ecb: timeout"); err != nil {
		t.Fatalf("RequeueRun() error = %v", err)
	}
	requeued, _ := repo.GetRun(ctx, run.ID)
	if requeued.Status != core.RunPending || requeued.ErrorSummary != "ecb: timeout" {
		t.Errorf("requeued = %+v", requeued)
	}

	running, _ = repo.MarkRunRunning(ctx, run.ID)
	if running.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", running.Attempts)
	}

	running.Status = core.RunCompletedWithErrors
	running.PairsTotal = 6
	running.PairsSaved = 4
	running.PairsSkipped = 2
	running.ErrorCount = 1
	running.ErrorSummary = "cbr: 502"
	if err := repo.FinishRun(ctx, running); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	finished, _ := repo.GetRun(ctx, run.ID)
	if finished.Status != core.RunCompletedWithErrors || finished.PairsSaved != 4 || finished.FinishedAt == nil {
		t.Errorf("finished = %+v", finished)
	}

	// Terminal failures sit out DueRuns until retried.
	failed := *finished
	failed.Status = core.RunFailed
	if err := repo.FinishRun(ctx, failed); err != nil {
		t.Fatalf("FinishRun(failed) error = %v", err)
	}
	due, _ = repo.DueRuns(ctx, 10)
	if len(due) != 1 {
		t.Errorf("due with failed run = %d, want 1", len(due))
	}

	n, err := repo.RetryFailedRuns(ctx)
	if err != nil {
		t.Fatalf("RetryFailedRuns() error = %v", err)
	}
	if n != 1 {
		t.Errorf("retried = %d, want 1", n)
	}
	retried, _ := repo.GetRun(ctx, run.ID)
	if retried.Status != core.RunPending || retried.Attempts != 0 {
		t.Errorf("retried = %+v", retried)
	}

	runs, err := repo.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 || !runs[0].RunDate.Equal(day) {
		t.Errorf("ListRuns() = %d rows, first %s; want newest day first", len(runs), runs[0].RunDate)
	}
}

func TestRepositoryComputeAccountBalance(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	eur := seedAccount(t, repo, "EUR account", "EUR")
	usd := seedAccount(t, repo, "USD account", "USD")
	salary := seedCategory(t, repo, "Main job", core.CategoryIncome)
	rent := seedCategory(t, repo, "Housing", core.CategoryExpense)

	seedTransaction(t, repo, core.Transaction{
		Type: core.Income, AccountID: eur, CategoryID: &salary,
		Amount: dec("1000"), Description: "salary", Date: core.NewDate(2024, 3, 1),
	})
	seedTransaction(t, repo, core.Transaction{
		Type: core.Expense, AccountID: eur, CategoryID: &rent,
		Amount: dec("300"), Description: "rent", Date: core.NewDate(2024, 3, 2),
	})
	// Cross-currency transfer: 100 EUR leaves, 108 USD lands.
	seedTransaction(t, repo, core.Transaction{
		Type: core.Transfer, AccountID: eur, TargetAccountID: &usd,
		Amount: dec("100"), ConvertedAmount: nd("108"), ExchangeRate: nd("1.08"),
		Description: "to usd", Date: core.NewDate(2024, 3, 3),
	})
	// Same-currency transfer carries no converted amount.
	deletedID := seedTransaction(t, repo, core.Transaction{
		Type: core.Expense, AccountID: eur, CategoryID: &rent,
		Amount: dec("50"), Description: "mistake", Date: core.NewDate(2024, 3, 4),
	})
	if err := repo.DeleteTransaction(ctx, deletedID); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}
	seedTransaction(t, repo, core.Transaction{
		Type: core.Transfer, AccountID: usd, TargetAccountID: &eur,
		Amount: dec("8"), Description: "back again", Date: core.NewDate(2024, 3, 5),
	})

	cases := []struct {
		name      string
		accountID int64
		want      string
	}{
		// 1000 - 300 - 100 + 8 (no converted amount: face value lands)
		{"eur account", eur, "608"},
		// 108 in, 8 out
		{"usd account", usd, "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.ComputeAccountBalance(ctx, tc.accountID)
			if err != nil {
				t.Fatalf("ComputeAccountBalance() error = %v", err)
			}
			if !got.Equal(dec(tc.want)) {
				t.Errorf("balance = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRepositoryBalanceSnapshots(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	accountID := seedAccount(t, repo, "Snapshotted", "EUR")

	if err := repo.UpsertAccountBalance(ctx, accountID, dec("120.50"), time.Now().UTC()); err != nil {
		t.Fatalf("UpsertAccountBalance() error = %v", err)
	}
	if err := repo.UpsertAccountBalance(ctx, accountID, dec("99.95"), time.Now().UTC()); err != nil {
		t.Fatalf("UpsertAccountBalance() overwrite error = %v", err)
	}

	snapshots, err := repo.ListBalanceSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListBalanceSnapshots() error = %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snapshots))
	}
	if got := snapshots[accountID]; !got.Equal(dec("99.95")) {
		t.Errorf("snapshot = %s, want 99.95", got)
	}
}

func intPtr(v int) *int { return &v }
