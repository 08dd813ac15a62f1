package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side of the transfer the user touched last. The recompute rule only ever
// overwrites the side the user did not edit.
type EditedSide string

const (
	EditedSource EditedSide = "source"
	EditedTarget EditedSide = "target"
)

// TransferDraft reconciles a transfer's two amounts while a rate arrives
// asynchronously. It is a pure state machine: callers feed it edits and rate
// responses, it never performs I/O. Rate responses are keyed by the account
// pair that requested them so a late response for a superseded pair is
// dropped instead of clobbering the current draft.
type TransferDraft struct {
	SourceAccountID int64
	TargetAccountID int64
	SourceCurrency  string
	TargetCurrency  string

	SourceAmount decimal.Decimal
	TargetAmount decimal.NullDecimal
	Rate         decimal.NullDecimal
	LastEdited   EditedSide

	// AmountsDiffer reveals the target amount for same-currency transfers
	// (fees and rounding make legitimately unequal legs possible). It is a
	// user toggle, never set automatically.
	AmountsDiffer bool
}

// NewTransferDraft starts an empty draft between two accounts. For
// same-currency pairs the rate is known immediately (1); otherwise the
// caller is expected to request a rate and deliver it via ApplyRate.
func NewTransferDraft(sourceID, targetID int64, sourceCur, targetCur string) *TransferDraft {
	d := &TransferDraft{LastEdited: EditedSource}
	d.SetAccounts(sourceID, targetID, sourceCur, targetCur)
	return d
}

// SetAccounts switches the draft to a new account pair. The target amount
// and toggle reset, the last-edited side returns to source, and any known
// rate is invalidated until a response for the new pair arrives.
func (d *TransferDraft) SetAccounts(sourceID, targetID int64, sourceCur, targetCur string) {
	d.SourceAccountID = sourceID
	d.TargetAccountID = targetID
	d.SourceCurrency = sourceCur
	d.TargetCurrency = targetCur
	d.TargetAmount = decimal.NullDecimal{}
	d.LastEdited = EditedSource
	d.AmountsDiffer = false
	if d.SameCurrency() {
		d.Rate = NullAmount(decimal.NewFromInt(1))
	} else {
		d.Rate = decimal.NullDecimal{}
	}
	d.Recompute()
}

// PairKey identifies the account pair a rate request belongs to.
func (d *TransferDraft) PairKey() string {
	return fmt.Sprintf("%d->%d", d.SourceAccountID, d.TargetAccountID)
}

func (d *TransferDraft) SameCurrency() bool {
	return d.SourceCurrency == d.TargetCurrency
}

// ApplyRate delivers an asynchronous rate response. Responses for any pair
// other than the current one are stale and ignored.
func (d *TransferDraft) ApplyRate(pairKey string, rate decimal.Decimal) {
	if pairKey != d.PairKey() {
		return
	}
	d.Rate = NullAmount(rate)
	d.Recompute()
}

// RateFailed records that the fetch for the given pair failed. Editing stays
// possible; only the auto-fill is disabled until a rate arrives.
func (d *TransferDraft) RateFailed(pairKey string) {
	if pairKey != d.PairKey() {
		return
	}
	if d.SameCurrency() {
		return
	}
	d.Rate = decimal.NullDecimal{}
}

// EditSource records a source-amount keystroke and reruns the recompute rule.
func (d *TransferDraft) EditSource(amount decimal.Decimal) {
	d.SourceAmount = amount
	d.LastEdited = EditedSource
	d.Recompute()
}

// EditTarget records a target-amount keystroke. The engine never overwrites
// a user-entered target; it only derives an effective rate for display.
func (d *TransferDraft) EditTarget(amount decimal.Decimal) {
	d.TargetAmount = NullAmount(amount)
	d.LastEdited = EditedTarget
}

// SetAmountsDiffer toggles the same-currency target reveal. Switching it off
// hands control back to the source side and remirrors the target.
func (d *TransferDraft) SetAmountsDiffer(on bool) {
	d.AmountsDiffer = on
	if !on {
		d.TargetAmount = decimal.NullDecimal{}
		d.LastEdited = EditedSource
		d.Recompute()
	}
}

// Recompute applies the single reconciliation rule: when the user last
// edited the source, the source is positive and the rate is known, the
// target becomes round(source x rate, 2). In every other case the target is
// left alone.
func (d *TransferDraft) Recompute() {
	if d.LastEdited != EditedSource {
		return
	}
	if !d.SourceAmount.IsPositive() || !d.Rate.Valid {
		return
	}
	d.TargetAmount = NullAmount(RoundAmount(d.SourceAmount.Mul(d.Rate.Decimal)))
}

// EffectiveRate derives target/source for the rate badge when both amounts
// are positive. It is display-only and never written back into Rate.
func (d *TransferDraft) EffectiveRate() decimal.NullDecimal {
	if !d.SourceAmount.IsPositive() || !d.TargetAmount.Valid || !d.TargetAmount.Decimal.IsPositive() {
		return decimal.NullDecimal{}
	}
	return NullAmount(RoundRate(d.TargetAmount.Decimal.Div(d.SourceAmount)))
}

// Validate checks submit preconditions: a positive source amount always, and
// a positive target amount when the currencies differ. Same-currency
// transfers may omit the target entirely.
func (d *TransferDraft) Validate() error {
	if !d.SourceAmount.IsPositive() {
		return Validationf("amount", "must be greater than zero")
	}
	if d.SourceAccountID == d.TargetAccountID {
		return Validationf("target_account_id", "must differ from source account")
	}
	if !d.SameCurrency() {
		if !d.TargetAmount.Valid || !d.TargetAmount.Decimal.IsPositive() {
			return Validationf("converted_amount", "must be greater than zero for cross-currency transfers")
		}
	}
	return nil
}

// Submit freezes the draft into a transaction. Cross-currency transfers
// always carry the converted amount and the rate actually achieved
// (target/source); same-currency transfers carry them only when the user
// opted into differing amounts and the target really differs.
func (d *TransferDraft) Submit(description string, date Date) (Transaction, error) {
	if err := d.Validate(); err != nil {
		return Transaction{}, err
	}
	targetID := d.TargetAccountID
	tx := Transaction{
		Type:            Transfer,
		AccountID:       d.SourceAccountID,
		TargetAccountID: &targetID,
		Amount:          d.SourceAmount,
		Description:     description,
		Date:            date,
	}
	include := !d.SameCurrency() ||
		(d.AmountsDiffer && d.TargetAmount.Valid && !d.TargetAmount.Decimal.Equal(d.SourceAmount))
	if include {
		tx.ConvertedAmount = d.TargetAmount
		tx.ExchangeRate = NullAmount(RoundRate(d.TargetAmount.Decimal.Div(d.SourceAmount)))
	}
	return tx, nil
}
