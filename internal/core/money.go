// Package core holds the domain model: entities, money and date handling,
// validation, and the transfer reconciliation rules. It has no dependencies
// on storage or transport.
package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision ladder: amounts are stored at 2 decimal places, exchange rates
// at 8. Computed values are rounded half up at these scales.
const (
	AmountScale = 2
	RateScale   = 8
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("too many decimal places")
)

// ParseAmount parses a user-entered monetary amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// ignores surrounding whitespace. Inputs with more than two decimal places
// are rejected rather than silently rounded; signs are rejected because
// direction lives in the transaction type, not the amount.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("12.345") -> 0, ErrTooManyDecimals
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Exponent() < -AmountScale {
		return decimal.Zero, ErrTooManyDecimals
	}
	return d, nil
}

// ParseRate parses an exchange rate at up to eight decimal places.
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.Exponent() < -RateScale {
		return decimal.Zero, ErrTooManyDecimals
	}
	return d, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// RoundAmount rounds a computed value half up to the amount scale.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// RoundRate rounds a computed value half up to the rate scale.
func RoundRate(d decimal.Decimal) decimal.Decimal {
	return d.Round(RateScale)
}

// FormatAmount renders an amount with exactly two decimal places, the
// canonical wire and display form.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}

// NullAmount wraps a decimal in a valid NullDecimal.
func NullAmount(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
