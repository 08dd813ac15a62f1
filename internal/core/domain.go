package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

// Recurring template frequencies.
const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Shopping list lifecycle states.
const (
	ListDraft     ListStatus = "draft"
	ListConfirmed ListStatus = "confirmed"
	ListCompleted ListStatus = "completed"
)

// Exchange rate sources.
const (
	SourceECB    RateSource = "ecb"
	SourceCBR    RateSource = "cbr"
	SourceManual RateSource = "manual"
)

type (
	TransactionType string
	Frequency       string
	ListStatus      string
	RateSource      string

	CategoryType string
)

const (
	CategoryIncome  CategoryType = "income"
	CategoryExpense CategoryType = "expense"
)

const (
	maxNameLen        = 200
	maxDescriptionLen = 500
)

// Currency is a catalog entry; accounts and rates reference it by code.
type Currency struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	DecimalPlaces int    `json:"decimal_places"`
}

// Account holds money in exactly one currency.
type Account struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	CurrencyCode string    `json:"currency_code"`
	Color        string    `json:"color,omitempty"`
	Icon         string    `json:"icon,omitempty"`
	IsArchived   bool      `json:"is_archived"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Category labels income or expense transactions. Transfers carry no category.
type Category struct {
	ID         int64        `json:"id"`
	Name       string       `json:"name"`
	Type       CategoryType `json:"type"`
	Color      string       `json:"color,omitempty"`
	Icon       string       `json:"icon,omitempty"`
	IsArchived bool         `json:"is_archived"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Transaction is a posted ledger entry. Transfers carry a target account and,
// when the currencies differ, a converted amount plus the rate used.
type Transaction struct {
	ID                  int64               `json:"id"`
	Type                TransactionType     `json:"type"`
	AccountID           int64               `json:"account_id"`
	TargetAccountID     *int64              `json:"target_account_id,omitempty"`
	CategoryID          *int64              `json:"category_id,omitempty"`
	Amount              decimal.Decimal     `json:"amount"`
	ConvertedAmount     decimal.NullDecimal `json:"converted_amount,omitempty"`
	ExchangeRate        decimal.NullDecimal `json:"exchange_rate,omitempty"`
	Description         string              `json:"description"`
	Date                Date                `json:"date"`
	ShoppingListID      *int64              `json:"shopping_list_id,omitempty"`
	RecurringTemplateID *int64              `json:"recurring_template_id,omitempty"`
	IdempotencyKey      string              `json:"-"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// RecurringTemplate generates concrete transactions over time.
// NextExecution is a cached value; the schedule engine recomputes it after
// every execution or activation change. A nil NextExecution means the
// schedule is exhausted (end date passed) and the template is never pending.
type RecurringTemplate struct {
	ID             int64           `json:"id"`
	Type           TransactionType `json:"type"`
	AccountID      int64           `json:"account_id"`
	CategoryID     *int64          `json:"category_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	Frequency      Frequency       `json:"frequency"`
	DayOfWeek      *int            `json:"day_of_week,omitempty"`  // 0 = Monday, required iff weekly
	DayOfMonth     *int            `json:"day_of_month,omitempty"` // 1-31, required iff monthly
	StartDate      Date            `json:"start_date"`
	EndDate        *Date           `json:"end_date,omitempty"`
	IsActive       bool            `json:"is_active"`
	LastExecutedAt *Date           `json:"last_executed_at,omitempty"`
	NextExecution  *Date           `json:"next_execution_date,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ShoppingItem belongs to exactly one list. A null price contributes zero
// to the list total.
type ShoppingItem struct {
	ID        int64               `json:"id"`
	ListID    int64               `json:"list_id"`
	Name      string              `json:"name"`
	Quantity  int                 `json:"quantity"`
	Price     decimal.NullDecimal `json:"price,omitempty"`
	IsChecked bool                `json:"is_checked"`
	CreatedAt time.Time           `json:"created_at"`
}

// ShoppingList moves draft -> confirmed -> completed; completing posts one
// ledger transaction and records its id exactly once.
type ShoppingList struct {
	ID            int64               `json:"id"`
	Name          string              `json:"name"`
	AccountID     int64               `json:"account_id"`
	CategoryID    int64               `json:"category_id"`
	Status        ListStatus          `json:"status"`
	Items         []ShoppingItem      `json:"items,omitempty"`
	TotalAmount   decimal.NullDecimal `json:"total_amount,omitempty"`
	TransactionID *int64              `json:"transaction_id,omitempty"`
	ConfirmedAt   *time.Time          `json:"confirmed_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// ShoppingTemplate is a reusable named item set; instantiating one creates a
// fresh draft list, carrying over default quantities and prices. The default
// account and category seed the new list but can be overridden per
// instantiation.
type ShoppingTemplate struct {
	ID                int64                  `json:"id"`
	Name              string                 `json:"name"`
	Color             string                 `json:"color,omitempty"`
	Icon              string                 `json:"icon,omitempty"`
	DefaultAccountID  *int64                 `json:"default_account_id,omitempty"`
	DefaultCategoryID *int64                 `json:"default_category_id,omitempty"`
	Items             []ShoppingTemplateItem `json:"items,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

type ShoppingTemplateItem struct {
	ID              int64               `json:"id"`
	TemplateID      int64               `json:"template_id"`
	Name            string              `json:"name"`
	DefaultQuantity int                 `json:"default_quantity"`
	DefaultPrice    decimal.NullDecimal `json:"default_price,omitempty"`
}

// ExchangeRate is one stored quote: 1 unit of From buys Rate units of To on
// Date. RunID ties the row to the collection run that produced it.
type ExchangeRate struct {
	ID           int64           `json:"id"`
	RunID        *int64          `json:"run_id,omitempty"`
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	Date         Date            `json:"date"`
	Source       RateSource      `json:"source"`
}

// Rate run statuses.
const (
	RunPending             RunStatus = "pending"
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
)

type RunStatus string

// RateRun tracks one collection pass over all catalog currency pairs for a
// single day. Failed runs are retried until the attempt budget is spent.
type RateRun struct {
	ID           int64      `json:"id"`
	RunDate      Date       `json:"run_date"`
	Status       RunStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	PairsTotal   int        `json:"pairs_total"`
	PairsSaved   int        `json:"pairs_saved"`
	PairsSkipped int        `json:"pairs_skipped"`
	ErrorCount   int        `json:"error_count"`
	ErrorSummary string     `json:"error_summary,omitempty"`
	IsBackfill   bool       `json:"is_backfill"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

func (s ListStatus) Valid() bool {
	switch s {
	case ListDraft, ListConfirmed, ListCompleted:
		return true
	}
	return false
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return Validationf("name", "cannot be empty")
	}
	if len(a.Name) > maxNameLen {
		return Validationf("name", "too long (max %d characters)", maxNameLen)
	}
	if len(a.CurrencyCode) != 3 {
		return Validationf("currency_code", "must be a 3-letter code")
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return Validationf("name", "cannot be empty")
	}
	if len(c.Name) > maxNameLen {
		return Validationf("name", "too long (max %d characters)", maxNameLen)
	}
	if c.Type != CategoryIncome && c.Type != CategoryExpense {
		return Validationf("type", "must be income or expense")
	}
	return nil
}

// Validate checks storage-level invariants. A zero amount is legal here
// because completing an empty shopping list may post one; the stricter
// greater-than-zero rule for user-entered transactions lives at the API
// boundary.
func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return Validationf("type", "must be income, expense or transfer")
	}
	if t.AccountID <= 0 {
		return Validationf("account_id", "is required")
	}
	if t.Amount.IsNegative() {
		return Validationf("amount", "cannot be negative")
	}
	if len(t.Description) > maxDescriptionLen {
		return Validationf("description", "too long (max %d characters)", maxDescriptionLen)
	}
	if err := t.Date.Validate(); err != nil {
		return Validationf("date", "%s", err.Error())
	}
	if t.Type == Transfer {
		if !t.Amount.IsPositive() {
			return Validationf("amount", "must be greater than zero")
		}
		if t.TargetAccountID == nil {
			return Validationf("target_account_id", "is required for transfers")
		}
		if *t.TargetAccountID == t.AccountID {
			return Validationf("target_account_id", "must differ from source account")
		}
		if t.CategoryID != nil {
			return Validationf("category_id", "transfers carry no category")
		}
	} else {
		if t.TargetAccountID != nil {
			return Validationf("target_account_id", "only valid for transfers")
		}
	}
	if t.ConvertedAmount.Valid && !t.ConvertedAmount.Decimal.IsPositive() {
		return Validationf("converted_amount", "must be greater than zero")
	}
	if t.ExchangeRate.Valid && !t.ExchangeRate.Decimal.IsPositive() {
		return Validationf("exchange_rate", "must be greater than zero")
	}
	return nil
}

// Validate enforces the frequency field pairing: exactly one of day_of_week
// and day_of_month is meaningful, matching the frequency.
func (t RecurringTemplate) Validate() error {
	if t.Type != Income && t.Type != Expense {
		return Validationf("type", "must be income or expense")
	}
	if t.AccountID <= 0 {
		return Validationf("account_id", "is required")
	}
	if !t.Amount.IsPositive() {
		return Validationf("amount", "must be greater than zero")
	}
	if strings.TrimSpace(t.Description) == "" {
		return Validationf("description", "cannot be empty")
	}
	if len(t.Description) > maxDescriptionLen {
		return Validationf("description", "too long (max %d characters)", maxDescriptionLen)
	}
	if !t.Frequency.Valid() {
		return Validationf("frequency", "must be daily, weekly or monthly")
	}
	switch t.Frequency {
	case Weekly:
		if t.DayOfWeek == nil {
			return Validationf("day_of_week", "is required for weekly templates")
		}
		if *t.DayOfWeek < 0 || *t.DayOfWeek > 6 {
			return Validationf("day_of_week", "must be between 0 (Monday) and 6 (Sunday)")
		}
		if t.DayOfMonth != nil {
			return Validationf("day_of_month", "not valid for weekly templates")
		}
	case Monthly:
		if t.DayOfMonth == nil {
			return Validationf("day_of_month", "is required for monthly templates")
		}
		if *t.DayOfMonth < 1 || *t.DayOfMonth > 31 {
			return Validationf("day_of_month", "must be between 1 and 31")
		}
		if t.DayOfWeek != nil {
			return Validationf("day_of_week", "not valid for monthly templates")
		}
	case Daily:
		if t.DayOfWeek != nil {
			return Validationf("day_of_week", "not valid for daily templates")
		}
		if t.DayOfMonth != nil {
			return Validationf("day_of_month", "not valid for daily templates")
		}
	}
	if err := t.StartDate.Validate(); err != nil {
		return Validationf("start_date", "%s", err.Error())
	}
	if t.EndDate != nil && t.EndDate.Before(t.StartDate) {
		return Validationf("end_date", "must not be before start date")
	}
	return nil
}

func (i ShoppingItem) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return Validationf("name", "cannot be empty")
	}
	if len(i.Name) > maxNameLen {
		return Validationf("name", "too long (max %d characters)", maxNameLen)
	}
	if i.Quantity < 1 {
		return Validationf("quantity", "must be at least 1")
	}
	if i.Price.Valid && i.Price.Decimal.IsNegative() {
		return Validationf("price", "cannot be negative")
	}
	return nil
}

func (l ShoppingList) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return Validationf("name", "cannot be empty")
	}
	if len(l.Name) > maxNameLen {
		return Validationf("name", "too long (max %d characters)", maxNameLen)
	}
	if l.AccountID <= 0 {
		return Validationf("account_id", "is required")
	}
	if l.CategoryID <= 0 {
		return Validationf("category_id", "is required")
	}
	return nil
}

// ItemsEditable reports whether structural item edits (add, remove, rename,
// requantify) are allowed: draft only.
func (l ShoppingList) ItemsEditable() bool {
	return l.Status == ListDraft
}

// PricingEditable reports whether price edits and check-offs are allowed:
// confirmed only.
func (l ShoppingList) PricingEditable() bool {
	return l.Status == ListConfirmed
}

// Total returns the stored override when set, otherwise the sum of
// quantity x price over the items. Items without a price contribute zero.
func (l ShoppingList) Total() decimal.Decimal {
	if l.TotalAmount.Valid {
		return l.TotalAmount.Decimal
	}
	sum := decimal.Zero
	for _, it := range l.Items {
		if !it.Price.Valid {
			continue
		}
		sum = sum.Add(it.Price.Decimal.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

func (t ShoppingTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return Validationf("name", "cannot be empty")
	}
	if len(t.Name) > maxNameLen {
		return Validationf("name", "too long (max %d characters)", maxNameLen)
	}
	for _, it := range t.Items {
		if strings.TrimSpace(it.Name) == "" {
			return Validationf("items", "item name cannot be empty")
		}
		if it.DefaultQuantity < 1 {
			return Validationf("items", "item quantity must be at least 1")
		}
		if it.DefaultPrice.Valid && it.DefaultPrice.Decimal.IsNegative() {
			return Validationf("items", "item price cannot be negative")
		}
	}
	return nil
}

func (r ExchangeRate) Validate() error {
	if len(r.FromCurrency) != 3 || len(r.ToCurrency) != 3 {
		return Validationf("currency", "must be a 3-letter code")
	}
	if r.FromCurrency == r.ToCurrency {
		return Validationf("to_currency", "must differ from from_currency")
	}
	if !r.Rate.IsPositive() {
		return Validationf("rate", "must be greater than zero")
	}
	if err := r.Date.Validate(); err != nil {
		return Validationf("date", "%s", err.Error())
	}
	return nil
}
