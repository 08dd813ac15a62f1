package core

import "github.com/shopspring/decimal"

// AccountBalance is the derived balance of one account: incoming minus
// outgoing, with transfer legs valued in the account's own currency.
type AccountBalance struct {
	AccountID    int64           `json:"account_id"`
	Name         string          `json:"name"`
	CurrencyCode string          `json:"currency_code"`
	Balance      decimal.Decimal `json:"balance"`
}

// CategoryAmount is an amount aggregated under one category.
type CategoryAmount struct {
	CategoryID int64           `json:"category_id"`
	Name       string          `json:"name"`
	Type       CategoryType    `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
}

// PeriodSummary is a compact overview for a date range: totals per side
// plus the per-category breakdown. Transfers are excluded.
type PeriodSummary struct {
	From         Date             `json:"from"`
	To           Date             `json:"to"`
	TotalIncome  decimal.Decimal  `json:"total_income"`
	TotalExpense decimal.Decimal  `json:"total_expense"`
	Net          decimal.Decimal  `json:"net"`
	ByCategory   []CategoryAmount `json:"by_category"`
}
