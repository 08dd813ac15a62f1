package http

import (
	"net/http"
	"strings"

	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/services"

	"github.com/shopspring/decimal"
)

type transactionRequest struct {
	Type            string              `json:"type"`
	AccountID       int64               `json:"account_id"`
	TargetAccountID *int64              `json:"target_account_id"`
	CategoryID      *int64              `json:"category_id"`
	Amount          decimal.Decimal     `json:"amount"`
	ConvertedAmount decimal.NullDecimal `json:"converted_amount"`
	ExchangeRate    decimal.NullDecimal `json:"exchange_rate"`
	Description     string              `json:"description"`
	Date            core.Date           `json:"date"`
}

func (req transactionRequest) toTransaction() core.Transaction {
	date := req.Date
	if date.IsZero() {
		date = core.Today()
	}
	return core.Transaction{
		Type:            core.TransactionType(strings.ToLower(strings.TrimSpace(req.Type))),
		AccountID:       req.AccountID,
		TargetAccountID: req.TargetAccountID,
		CategoryID:      req.CategoryID,
		Amount:          req.Amount,
		ConvertedAmount: req.ConvertedAmount,
		ExchangeRate:    req.ExchangeRate,
		Description:     strings.TrimSpace(req.Description),
		Date:            date,
	}
}

func (s *Server) handlePostTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	tx := req.toTransaction()
	// Retried requests carrying the same key replay the first post.
	tx.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if tx.Type == core.Transfer {
		writeError(w, r, core.Validationf("type", "transfers are posted via /api/transfers"))
		return
	}
	// Zero amounts are reserved for system-generated entries
	if !tx.Amount.IsPositive() {
		writeError(w, r, core.Validationf("amount", "must be greater than zero"))
		return
	}
	if err := tx.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.ledger.PostTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.ledger.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	s.recordPost()
	s.logAction(r, "Transaction posted",
		log.FieldTransactionID, id,
		"type", string(created.Type),
		log.FieldAmount, created.Amount.String(),
		log.FieldAccountID, created.AccountID)
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	transactions, err := s.ledger.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, transactions)
}

func parseTransactionFilter(r *http.Request) (services.TransactionFilter, error) {
	var f services.TransactionFilter

	from, err := queryDate(r, "from", core.Date{})
	if err != nil {
		return f, err
	}
	if !from.IsZero() {
		f.From = &from
	}
	to, err := queryDate(r, "to", core.Date{})
	if err != nil {
		return f, err
	}
	if !to.IsZero() {
		f.To = &to
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, core.Validationf("to", "must not be before from")
	}

	if f.AccountID, err = queryInt64(r, "account_id"); err != nil {
		return f, err
	}
	if f.CategoryID, err = queryInt64(r, "category_id"); err != nil {
		return f, err
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		t := core.TransactionType(strings.ToLower(raw))
		if !t.Valid() {
			return f, core.Validationf("type", "must be income, expense or transfer")
		}
		f.Type = &t
	}

	if f.Limit, err = queryInt(r, "limit", 100); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.ledger.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tx)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	tx := req.toTransaction()
	tx.ID = id
	if !tx.Amount.IsPositive() {
		writeError(w, r, core.Validationf("amount", "must be greater than zero"))
		return
	}
	if err := tx.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.ledger.UpdateTransaction(r.Context(), tx); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.ledger.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.ledger.DeleteTransaction(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	s.logAction(r, "Transaction deleted", log.FieldTransactionID, id)
	writeJSON(w, r, http.StatusNoContent, nil)
}

// transferRequest is the client's reconciliation state in one shot.
type transferRequest struct {
	SourceAccountID int64               `json:"source_account_id"`
	TargetAccountID int64               `json:"target_account_id"`
	SourceAmount    decimal.Decimal     `json:"source_amount"`
	TargetAmount    decimal.NullDecimal `json:"target_amount"`
	LastEdited      string              `json:"last_edited"`
	AmountsDiffer   bool                `json:"amounts_differ"`
	Date            core.Date           `json:"date"`
	Description     string              `json:"description"`
}

func (req transferRequest) toServiceRequest() (services.TransferRequest, error) {
	side := core.EditedSource
	switch strings.ToLower(strings.TrimSpace(req.LastEdited)) {
	case "", "source":
	case "target":
		side = core.EditedTarget
	default:
		return services.TransferRequest{}, core.Validationf("last_edited", "must be source or target")
	}

	if req.SourceAccountID <= 0 {
		return services.TransferRequest{}, core.Validationf("source_account_id", "is required")
	}
	if req.TargetAccountID <= 0 {
		return services.TransferRequest{}, core.Validationf("target_account_id", "is required")
	}

	return services.TransferRequest{
		SourceAccountID: req.SourceAccountID,
		TargetAccountID: req.TargetAccountID,
		SourceAmount:    req.SourceAmount,
		TargetAmount:    req.TargetAmount,
		LastEdited:      side,
		AmountsDiffer:   req.AmountsDiffer,
		Date:            req.Date,
		Description:     strings.TrimSpace(req.Description),
	}, nil
}

// transferPreviewResponse flattens the draft for the client.
type transferPreviewResponse struct {
	SourceAccountID int64               `json:"source_account_id"`
	TargetAccountID int64               `json:"target_account_id"`
	SourceCurrency  string              `json:"source_currency"`
	TargetCurrency  string              `json:"target_currency"`
	SameCurrency    bool                `json:"same_currency"`
	SourceAmount    decimal.Decimal     `json:"source_amount"`
	TargetAmount    decimal.NullDecimal `json:"target_amount"`
	AmountsDiffer   bool                `json:"amounts_differ"`
	LastEdited      string              `json:"last_edited"`
	EffectiveRate   decimal.NullDecimal `json:"effective_rate"`
	CanSubmit       bool                `json:"can_submit"`
}

func (s *Server) handleTransferPreview(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	svcReq, err := req.toServiceRequest()
	if err != nil {
		writeError(w, r, err)
		return
	}

	preview, err := s.transfers.Preview(r.Context(), svcReq)
	if err != nil {
		writeError(w, r, err)
		return
	}

	draft := preview.Draft
	writeJSON(w, r, http.StatusOK, transferPreviewResponse{
		SourceAccountID: draft.SourceAccountID,
		TargetAccountID: draft.TargetAccountID,
		SourceCurrency:  draft.SourceCurrency,
		TargetCurrency:  draft.TargetCurrency,
		SameCurrency:    draft.SameCurrency(),
		SourceAmount:    draft.SourceAmount,
		TargetAmount:    draft.TargetAmount,
		AmountsDiffer:   draft.AmountsDiffer,
		LastEdited:      string(draft.LastEdited),
		EffectiveRate:   preview.EffectiveRate,
		CanSubmit:       preview.CanSubmit,
	})
}

func (s *Server) handleTransferSubmit(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	svcReq, err := req.toServiceRequest()
	if err != nil {
		writeError(w, r, err)
		return
	}

	tx, err := s.transfers.Submit(r.Context(), svcReq)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	s.recordPost()
	s.logAction(r, "Transfer posted",
		log.FieldTransactionID, tx.ID,
		log.FieldAccountID, tx.AccountID,
		"target_account_id", *tx.TargetAccountID,
		log.FieldAmount, tx.Amount.String())
	writeJSON(w, r, http.StatusCreated, tx)
}
