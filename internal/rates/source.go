// Package rates fetches daily exchange-rate sets from public central-bank
// feeds. Each client returns the raw quotes against its own base currency;
// pair resolution across bases is the collector's job.
package rates

import (
	"context"

	"tally/internal/core"

	"github.com/shopspring/decimal"
)

// RateSet is one day's published quotes. Rates maps a currency code to its
// quote against the source's base currency; the base itself is present with
// a rate of 1.
type RateSet struct {
	Date  core.Date
	Rates map[string]decimal.Decimal
}

// Source is a central-bank rate feed.
type Source interface {
	Name() core.RateSource
	// FetchRates returns the latest rate set published on or before the
	// given day.
	FetchRates(ctx context.Context, on core.Date) (RateSet, error)
}
