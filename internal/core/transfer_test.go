package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTransferAutoFill(t *testing.T) {
	d := NewTransferDraft(1, 2, "USD", "EUR")
	d.ApplyRate(d.PairKey(), dec("0.92"))
	d.EditSource(dec("100"))

	if !d.TargetAmount.Valid {
		t.Fatalf("target not auto-filled")
	}
	if got := FormatAmount(d.TargetAmount.Decimal); got != "92.00" {
		t.Errorf("target = %s, want 92.00", got)
	}
}

func TestTransferTargetEditWins(t *testing.T) {
	d := NewTransferDraft(1, 2, "USD", "EUR")
	d.ApplyRate(d.PairKey(), dec("0.92"))
	d.EditSource(dec("100"))
	d.EditTarget(dec("95.00"))

	eff := d.EffectiveRate()
	if !eff.Valid || eff.Decimal.StringFixed(2) != "0.95" {
		t.Errorf("effective rate = %v, want 0.95", eff)
	}
	// A late recompute pass must not clobber the user's target.
	d.Recompute()
	if got := FormatAmount(d.TargetAmount.Decimal); got != "95.00" {
		t.Errorf("target after recompute = %s, want 95.00", got)
	}
	// Re-editing the source hands control back to the rate.
	d.EditSource(dec("200"))
	if got := FormatAmount(d.TargetAmount.Decimal); got != "184.00" {
		t.Errorf("target after source re-edit = %s, want 184.00", got)
	}
}

func TestTransferStaleRateDiscarded(t *testing.T) {
	d := NewTransferDraft(1, 2, "USD", "EUR")
	oldKey := d.PairKey()
	d.SetAccounts(1, 3, "USD", "GBP")
	d.ApplyRate(oldKey, dec("0.92")) // response for the superseded pair

	if d.Rate.Valid {
		t.Fatalf("stale rate applied")
	}
	d.ApplyRate(d.PairKey(), dec("0.80"))
	if !d.Rate.Valid || !d.Rate.Decimal.Equal(dec("0.80")) {
		t.Fatalf("current-pair rate not applied")
	}
}

func TestTransferAccountChangeResets(t *testing.T) {
	d := NewTransferDraft(1, 2, "USD", "EUR")
	d.ApplyRate(d.PairKey(), dec("0.92"))
	d.EditSource(dec("100"))
	d.EditTarget(dec("95.00"))

	d.SetAccounts(1, 3, "USD", "GBP")
	if d.TargetAmount.Valid {
		t.Errorf("target survived account change")
	}
	if d.LastEdited != EditedSource {
		t.Errorf("LastEdited = %s, want source", d.LastEdited)
	}
	if d.Rate.Valid {
		t.Errorf("rate survived account change")
	}
}

func TestTransferSameCurrency(t *testing.T) {
	d := NewTransferDraft(1, 2, "EUR", "EUR")
	if !d.Rate.Valid || !d.Rate.Decimal.Equal(dec("1")) {
		t.Fatalf("same-currency rate = %v, want 1", d.Rate)
	}
	d.EditSource(dec("100"))

	tx, err := d.Submit("move", NewDate(2025, 1, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if tx.ConvertedAmount.Valid || tx.ExchangeRate.Valid {
		t.Errorf("same-currency submit carried converted_amount/exchange_rate")
	}

	// Opting into differing amounts exposes the target side.
	d.SetAmountsDiffer(true)
	d.EditTarget(dec("98.50"))
	tx, err = d.Submit("move with fee", NewDate(2025, 1, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !tx.ConvertedAmount.Valid || FormatAmount(tx.ConvertedAmount.Decimal) != "98.50" {
		t.Errorf("converted = %v, want 98.50", tx.ConvertedAmount)
	}
	if !tx.ExchangeRate.Valid || tx.ExchangeRate.Decimal.StringFixed(3) != "0.985" {
		t.Errorf("rate = %v, want 0.985", tx.ExchangeRate)
	}

	// Toggling back off remirrors and drops the override at submit.
	d.SetAmountsDiffer(false)
	tx, err = d.Submit("move", NewDate(2025, 1, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if tx.ConvertedAmount.Valid {
		t.Errorf("toggle off still carried converted_amount")
	}
}

func TestTransferCrossCurrencySubmit(t *testing.T) {
	d := NewTransferDraft(1, 2, "USD", "EUR")
	d.ApplyRate(d.PairKey(), dec("0.92"))
	d.EditSource(dec("100"))

	tx, err := d.Submit("fx move", NewDate(2025, 1, 1))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if tx.Type != Transfer || tx.AccountID != 1 || tx.TargetAccountID == nil || *tx.TargetAccountID != 2 {
		t.Fatalf("unexpected transaction shape: %+v", tx)
	}
	if !tx.ConvertedAmount.Valid || FormatAmount(tx.ConvertedAmount.Decimal) != "92.00" {
		t.Errorf("converted = %v, want 92.00", tx.ConvertedAmount)
	}
	if !tx.ExchangeRate.Valid || tx.ExchangeRate.Decimal.StringFixed(2) != "0.92" {
		t.Errorf("rate = %v, want 0.92", tx.ExchangeRate)
	}
}

func TestTransferSubmitValidation(t *testing.T) {
	d := NewTransferDraft(1, 2, "USD", "EUR")
	if _, err := d.Submit("x", NewDate(2025, 1, 1)); err == nil {
		t.Errorf("zero source accepted")
	}

	d.EditSource(dec("100")) // rate unknown, no target yet
	if _, err := d.Submit("x", NewDate(2025, 1, 1)); err == nil {
		t.Errorf("cross-currency submit without target accepted")
	}

	d.EditTarget(dec("91.00")) // manual entry while rate unknown
	if _, err := d.Submit("x", NewDate(2025, 1, 1)); err != nil {
		t.Errorf("manual target rejected: %v", err)
	}

	same := NewTransferDraft(4, 4, "EUR", "EUR")
	same.EditSource(dec("10"))
	if _, err := same.Submit("x", NewDate(2025, 1, 1)); err == nil {
		t.Errorf("self transfer accepted")
	}
}

func TestTransferRateFailure(t *testing.T) {
	d := NewTransferDraft(1, 2, "USD", "EUR")
	d.EditSource(dec("100"))
	d.RateFailed(d.PairKey())

	if d.Rate.Valid {
		t.Fatalf("rate marked known after failure")
	}
	if d.TargetAmount.Valid {
		t.Fatalf("target auto-filled without a rate")
	}
	// Manual entry still possible.
	d.EditTarget(dec("90"))
	if !d.TargetAmount.Valid {
		t.Fatalf("manual target rejected")
	}
}
