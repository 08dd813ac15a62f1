package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"

	"github.com/shopspring/decimal"
)

// TransferStore is the narrow read surface transfer reconciliation needs.
type TransferStore interface {
	GetAccount(ctx context.Context, id int64) (*core.Account, error)
}

// TransferRequest is the client's draft state in one shot: which accounts,
// what was typed on each side, and which side was touched last. Preview and
// submit both rebuild the reconciliation draft from it.
type TransferRequest struct {
	SourceAccountID int64
	TargetAccountID int64
	SourceAmount    decimal.Decimal
	TargetAmount    decimal.NullDecimal
	LastEdited      core.EditedSide
	AmountsDiffer   bool
	Date            core.Date
	Description     string
}

// TransferPreview is the draft after the reconciliation rule ran server-side.
type TransferPreview struct {
	Draft         *core.TransferDraft
	EffectiveRate decimal.NullDecimal
	CanSubmit     bool
}

// TransferService evaluates the transfer reconciliation rule and posts the
// resulting transaction through the ledger.
type TransferService struct {
	storage TransferStore
	rates   RateConverter
	ledger  LedgerPoster
}

func NewTransferService(storage TransferStore, rates RateConverter, ledger LedgerPoster) *TransferService {
	return &TransferService{
		storage: storage,
		rates:   rates,
		ledger:  ledger,
	}
}

// Preview rebuilds the draft, resolves the pair's rate and reruns the
// recompute rule, returning what the amounts look like now. A rate miss is
// not an error: auto-fill stays off and the caller keeps editing.
func (s *TransferService) Preview(ctx context.Context, req TransferRequest) (*TransferPreview, error) {
	draft, err := s.buildDraft(ctx, req)
	if err != nil {
		return nil, err
	}
	return &TransferPreview{
		Draft:         draft,
		EffectiveRate: draft.EffectiveRate(),
		CanSubmit:     draft.Validate() == nil,
	}, nil
}

// Submit freezes the draft into a transfer transaction and posts it. The
// returned transaction carries the ledger id; cross-currency transfers
// carry the achieved converted amount and rate.
func (s *TransferService) Submit(ctx context.Context, req TransferRequest) (*core.Transaction, error) {
	draft, err := s.buildDraft(ctx, req)
	if err != nil {
		return nil, err
	}

	tx, err := draft.Submit(req.Description, transferDate(req))
	if err != nil {
		return nil, err
	}

	id, err := s.ledger.PostTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	tx.ID = id

	slog.InfoContext(ctx, "Posted transfer",
		"transaction_id", id,
		"source_account", tx.AccountID,
		"target_account", *tx.TargetAccountID,
		"amount", core.FormatAmount(tx.Amount))
	return &tx, nil
}

// buildDraft replays the client's state through the reconciliation engine:
// accounts first, then the rate response, then the edits in an order that
// leaves LastEdited where the client had it.
func (s *TransferService) buildDraft(ctx context.Context, req TransferRequest) (*core.TransferDraft, error) {
	source, err := s.storage.GetAccount(ctx, req.SourceAccountID)
	if err != nil {
		return nil, fmt.Errorf("source account %d: %w", req.SourceAccountID, err)
	}
	target, err := s.storage.GetAccount(ctx, req.TargetAccountID)
	if err != nil {
		return nil, fmt.Errorf("target account %d: %w", req.TargetAccountID, err)
	}

	draft := core.NewTransferDraft(source.ID, target.ID, source.CurrencyCode, target.CurrencyCode)
	if req.AmountsDiffer {
		draft.SetAmountsDiffer(true)
	}

	if !draft.SameCurrency() {
		rate, err := s.rates.GetRate(ctx, source.CurrencyCode, target.CurrencyCode, transferDate(req))
		if err != nil {
			slog.WarnContext(ctx, "No rate for transfer pair, auto-fill disabled",
				"from", source.CurrencyCode, "to", target.CurrencyCode, "error", err)
			draft.RateFailed(draft.PairKey())
		} else {
			draft.ApplyRate(draft.PairKey(), rate)
		}
	}

	if req.LastEdited == core.EditedTarget {
		draft.EditSource(req.SourceAmount)
		if req.TargetAmount.Valid {
			draft.EditTarget(req.TargetAmount.Decimal)
		}
	} else {
		if req.TargetAmount.Valid {
			draft.EditTarget(req.TargetAmount.Decimal)
		}
		draft.EditSource(req.SourceAmount)
	}
	return draft, nil
}

func transferDate(req TransferRequest) core.Date {
	if req.Date.IsZero() {
		return core.Today()
	}
	return req.Date
}
