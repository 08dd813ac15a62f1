package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/core"
)

// LedgerPoster is the collaborator that durably records a financial
// transaction. Recurring execution and shopping-list completion both go
// through it so their post-and-advance sequences stay idempotent.
type LedgerPoster interface {
	PostTransaction(ctx context.Context, tx core.Transaction) (int64, error)
}

// EventPublisher pushes transaction change events to the message broker.
// Publishing is best effort: a broker outage never fails the request.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, op string, txID int64, accountIDs []int64) error
}

// Event operation names carried on the wire.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// TransactionFilter narrows ListTransactions. Nil fields match everything.
type TransactionFilter struct {
	From       *core.Date
	To         *core.Date
	AccountID  *int64
	CategoryID *int64
	Type       *core.TransactionType
	Limit      int
	Offset     int
}

// LedgerStore is the persistence surface the ledger needs.
type LedgerStore interface {
	CreateTransaction(ctx context.Context, tx core.Transaction) (int64, error)
	GetTransaction(ctx context.Context, id int64) (*core.Transaction, error)
	GetTransactionByKey(ctx context.Context, key string) (*core.Transaction, error)
	UpdateTransaction(ctx context.Context, tx core.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
	GetAccount(ctx context.Context, id int64) (*core.Account, error)
	GetCategory(ctx context.Context, id int64) (*core.Category, error)
}

// LedgerService orchestrates transaction writes across SQLite and AMQP.
type LedgerService struct {
	storage LedgerStore
	events  EventPublisher
}

func NewLedgerService(storage LedgerStore, events EventPublisher) *LedgerService {
	return &LedgerService{
		storage: storage,
		events:  events,
	}
}

// PostTransaction validates and records a transaction. When the transaction
// carries an idempotency key and a transaction with that key already exists,
// the existing id is returned and nothing is posted again. Callers retrying
// after a crash therefore never double-post.
func (s *LedgerService) PostTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	if err := tx.Validate(); err != nil {
		return 0, err
	}
	if err := s.checkReferences(ctx, tx); err != nil {
		return 0, err
	}

	if tx.IdempotencyKey != "" {
		existing, err := s.storage.GetTransactionByKey(ctx, tx.IdempotencyKey)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return 0, fmt.Errorf("lookup idempotency key: %w", err)
		}
		if existing != nil {
			slog.InfoContext(ctx, "Idempotent replay, returning existing transaction",
				"key", tx.IdempotencyKey, "id", existing.ID)
			return existing.ID, nil
		}
	}

	id, err := s.storage.CreateTransaction(ctx, tx)
	if err != nil {
		// A concurrent retry may have won the unique-key race; resolve to
		// the row that got in.
		if tx.IdempotencyKey != "" && errors.Is(err, core.ErrDuplicate) {
			existing, lookupErr := s.storage.GetTransactionByKey(ctx, tx.IdempotencyKey)
			if lookupErr == nil && existing != nil {
				return existing.ID, nil
			}
		}
		return 0, fmt.Errorf("save transaction: %w", err)
	}

	s.publishEvent(ctx, OpCreated, id, eventAccounts(tx))
	return id, nil
}

// GetTransaction returns a single transaction by id.
func (s *LedgerService) GetTransaction(ctx context.Context, id int64) (*core.Transaction, error) {
	return s.storage.GetTransaction(ctx, id)
}

// ListTransactions returns transactions matching the filter, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error) {
	return s.storage.ListTransactions(ctx, f)
}

// UpdateTransaction replaces a transaction's editable fields. The idempotency
// key is never changed by an update.
func (s *LedgerService) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	if tx.ID <= 0 {
		return core.Validationf("id", "is required")
	}
	if err := tx.Validate(); err != nil {
		return err
	}
	if err := s.checkReferences(ctx, tx); err != nil {
		return err
	}

	before, err := s.storage.GetTransaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	tx.IdempotencyKey = before.IdempotencyKey

	if err := s.storage.UpdateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	// Balances on both the old and new accounts are affected.
	affected := append(eventAccounts(*before), eventAccounts(tx)...)
	s.publishEvent(ctx, OpUpdated, tx.ID, affected)
	return nil
}

// DeleteTransaction removes a transaction from the ledger.
func (s *LedgerService) DeleteTransaction(ctx context.Context, id int64) error {
	before, err := s.storage.GetTransaction(ctx, id)
	if err != nil {
		return err
	}

	if err := s.storage.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	s.publishEvent(ctx, OpDeleted, id, eventAccounts(*before))
	return nil
}

// checkReferences verifies the accounts and category a transaction points at
// exist and accept new entries.
func (s *LedgerService) checkReferences(ctx context.Context, tx core.Transaction) error {
	account, err := s.storage.GetAccount(ctx, tx.AccountID)
	if err != nil {
		return fmt.Errorf("account %d: %w", tx.AccountID, err)
	}
	if account.IsArchived {
		return core.Validationf("account_id", "account is archived")
	}
	if tx.TargetAccountID != nil {
		target, err := s.storage.GetAccount(ctx, *tx.TargetAccountID)
		if err != nil {
			return fmt.Errorf("target account %d: %w", *tx.TargetAccountID, err)
		}
		if target.IsArchived {
			return core.Validationf("target_account_id", "account is archived")
		}
	}
	if tx.CategoryID != nil {
		category, err := s.storage.GetCategory(ctx, *tx.CategoryID)
		if err != nil {
			return fmt.Errorf("category %d: %w", *tx.CategoryID, err)
		}
		if string(category.Type) != string(tx.Type) {
			return core.Validationf("category_id", "category type %s does not match transaction type %s", category.Type, tx.Type)
		}
	}
	return nil
}

func (s *LedgerService) publishEvent(ctx context.Context, op string, id int64, accountIDs []int64) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTransactionEvent(ctx, op, id, accountIDs); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			"op", op, "id", id, "error", err)
		// Don't fail the request - the transaction is committed locally
	}
}

func eventAccounts(tx core.Transaction) []int64 {
	ids := []int64{tx.AccountID}
	if tx.TargetAccountID != nil {
		ids = append(ids, *tx.TargetAccountID)
	}
	return ids
}
