package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tally/internal/cache"
	"tally/internal/core"
)

// RateStore is the slice of storage the rate service needs.
type RateStore interface {
	// NearestRate returns the stored quote for the pair closest to the
	// given date, preferring newer quotes on ties, or core.ErrNotFound.
	NearestRate(ctx context.Context, from, to string, on core.Date) (core.ExchangeRate, error)
	SaveRate(ctx context.Context, rate core.ExchangeRate) (core.ExchangeRate, error)
}

// RateService answers "what is one unit of X worth in Y on this day"
// from the collected quote table. It is the rate provider behind
// transfer auto-fill and cross-currency reporting.
type RateService struct {
	storage RateStore
	cache   cache.Cache[decimal.Decimal]
}

// NewRateService creates a rate service. The cache may be nil, in which
// case every lookup hits storage.
func NewRateService(storage RateStore, c cache.Cache[decimal.Decimal]) *RateService {
	return &RateService{storage: storage, cache: c}
}

// crossBases are tried in order when neither a direct nor an inverse
// quote exists for a pair. They match the collector's source bases.
var crossBases = []string{"EUR", "RUB"}

// GetRate resolves the conversion rate from one currency to another as
// of a date: identity, then the nearest stored direct quote, then the
// inverse of the opposite quote, then a cross rate through a common
// base. core.ErrRateUnavailable when nothing matches.
func (s *RateService) GetRate(ctx context.Context, from, to string, on core.Date) (decimal.Decimal, error) {
	from = normalizeCurrency(from)
	to = normalizeCurrency(to)
	if from == "" || to == "" {
		return decimal.Zero, core.Validationf("currency", "currency code is required")
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := rateKey(from, to, on)
	if s.cache != nil {
		if rate, ok := s.cache.Get(key); ok {
			return rate, nil
		}
	}

	rate, err := s.resolve(ctx, from, to, on)
	if err != nil {
		return decimal.Zero, err
	}
	if s.cache != nil {
		s.cache.Set(key, rate)
	}
	return rate, nil
}

func (s *RateService) resolve(ctx context.Context, from, to string, on core.Date) (decimal.Decimal, error) {
	direct, err := s.storage.NearestRate(ctx, from, to, on)
	if err == nil {
		return direct.Rate, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("load rate %s->%s: %w", from, to, err)
	}

	inverse, err := s.storage.NearestRate(ctx, to, from, on)
	if err == nil && inverse.Rate.IsPositive() {
		return core.RoundRate(decimal.NewFromInt(1).Div(inverse.Rate)), nil
	}
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("load rate %s->%s: %w", to, from, err)
	}

	for _, base := range crossBases {
		if base == from || base == to {
			continue
		}
		fromBase, err := s.storage.NearestRate(ctx, from, base, on)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return decimal.Zero, fmt.Errorf("load rate %s->%s: %w", from, base, err)
		}
		baseTo, err := s.storage.NearestRate(ctx, base, to, on)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return decimal.Zero, fmt.Errorf("load rate %s->%s: %w", base, to, err)
		}
		return core.RoundRate(fromBase.Rate.Mul(baseTo.Rate)), nil
	}

	return decimal.Zero, fmt.Errorf("%w: %s->%s on %s", core.ErrRateUnavailable, from, to, on)
}

// Convert converts an amount between currencies at the rate in effect
// on the given date, rounded to cents.
func (s *RateService) Convert(ctx context.Context, amount decimal.Decimal, from, to string, on core.Date) (decimal.Decimal, error) {
	rate, err := s.GetRate(ctx, from, to, on)
	if err != nil {
		return decimal.Zero, err
	}
	return core.RoundAmount(amount.Mul(rate)), nil
}

// SaveManualRate stores a user-entered quote for a pair and day. Manual
// quotes share the table with collected ones and win nearest-rate
// lookups for their day like any other quote.
func (s *RateService) SaveManualRate(ctx context.Context, from, to string, rate decimal.Decimal, on core.Date) (core.ExchangeRate, error) {
	rec := core.ExchangeRate{
		FromCurrency: normalizeCurrency(from),
		ToCurrency:   normalizeCurrency(to),
		Rate:         core.RoundRate(rate),
		Date:         on,
		Source:       core.SourceManual,
	}
	if err := rec.Validate(); err != nil {
		return core.ExchangeRate{}, err
	}

	saved, err := s.storage.SaveRate(ctx, rec)
	if err != nil {
		return core.ExchangeRate{}, fmt.Errorf("save manual rate: %w", err)
	}

	if s.cache != nil {
		s.cache.Delete(rateKey(rec.FromCurrency, rec.ToCurrency, on))
		s.cache.Delete(rateKey(rec.ToCurrency, rec.FromCurrency, on))
	}
	return saved, nil
}

func rateKey(from, to string, on core.Date) string {
	return fmt.Sprintf("%s->%s@%s", from, to, on)
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
