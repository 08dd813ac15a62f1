package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/core"

	"github.com/shopspring/decimal"
)

// ShoppingStore is the persistence surface for lists and their items.
// GetList always loads items alongside the list.
type ShoppingStore interface {
	CreateList(ctx context.Context, list core.ShoppingList) (int64, error)
	GetList(ctx context.Context, id int64) (*core.ShoppingList, error)
	ListLists(ctx context.Context, status *core.ListStatus) ([]core.ShoppingList, error)
	UpdateList(ctx context.Context, list core.ShoppingList) error
	DeleteList(ctx context.Context, id int64) error
	SetListConfirmed(ctx context.Context, id int64, at time.Time) error
	SetListDraft(ctx context.Context, id int64) error
	MarkListCompleted(ctx context.Context, id int64, total decimal.Decimal, transactionID *int64, at time.Time) error
	AddItem(ctx context.Context, item core.ShoppingItem) (int64, error)
	GetItem(ctx context.Context, listID, itemID int64) (*core.ShoppingItem, error)
	UpdateItem(ctx context.Context, item core.ShoppingItem) error
	DeleteItem(ctx context.Context, listID, itemID int64) error
	GetAccount(ctx context.Context, id int64) (*core.Account, error)
	GetCategory(ctx context.Context, id int64) (*core.Category, error)
}

// ShoppingService drives the draft -> confirmed -> completed lifecycle and
// posts the completion transaction through the ledger.
type ShoppingService struct {
	storage ShoppingStore
	ledger  LedgerPoster

	// allowEmptyComplete permits completing a list whose total is zero,
	// posting a zero-amount transaction.
	allowEmptyComplete bool
}

func NewShoppingService(storage ShoppingStore, ledger LedgerPoster, allowEmptyComplete bool) *ShoppingService {
	return &ShoppingService{
		storage:            storage,
		ledger:             ledger,
		allowEmptyComplete: allowEmptyComplete,
	}
}

// completionKey derives the idempotency key for a list's one-and-only
// completion transaction.
func completionKey(listID int64) string {
	return fmt.Sprintf("shopping:%d", listID)
}

func (s *ShoppingService) CreateList(ctx context.Context, list core.ShoppingList) (*core.ShoppingList, error) {
	if err := list.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, list); err != nil {
		return nil, err
	}

	list.Status = core.ListDraft
	id, err := s.storage.CreateList(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("save shopping list: %w", err)
	}
	return s.storage.GetList(ctx, id)
}

func (s *ShoppingService) GetList(ctx context.Context, id int64) (*core.ShoppingList, error) {
	return s.storage.GetList(ctx, id)
}

func (s *ShoppingService) ListLists(ctx context.Context, status *core.ListStatus) ([]core.ShoppingList, error) {
	if status != nil && !status.Valid() {
		return nil, core.Validationf("status", "must be draft, confirmed or completed")
	}
	return s.storage.ListLists(ctx, status)
}

// UpdateList edits the list's name, account and category. The lifecycle
// state and item set are untouched.
func (s *ShoppingService) UpdateList(ctx context.Context, list core.ShoppingList) (*core.ShoppingList, error) {
	if list.ID <= 0 {
		return nil, core.Validationf("id", "is required")
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, list); err != nil {
		return nil, err
	}

	current, err := s.storage.GetList(ctx, list.ID)
	if err != nil {
		return nil, err
	}
	if current.Status == core.ListCompleted {
		return nil, core.ErrListCompleted
	}

	if err := s.storage.UpdateList(ctx, list); err != nil {
		return nil, fmt.Errorf("update shopping list: %w", err)
	}
	return s.storage.GetList(ctx, list.ID)
}

// DeleteList removes a list in any state. A completed list's posted
// transaction is an independent ledger entity and survives the delete.
func (s *ShoppingService) DeleteList(ctx context.Context, id int64) error {
	if _, err := s.storage.GetList(ctx, id); err != nil {
		return err
	}
	return s.storage.DeleteList(ctx, id)
}

// Confirm moves draft -> confirmed. Confirming an already confirmed list is
// a no-op; completed lists are immutable.
func (s *ShoppingService) Confirm(ctx context.Context, id int64) (*core.ShoppingList, error) {
	list, err := s.storage.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	switch list.Status {
	case core.ListCompleted:
		return nil, core.ErrListCompleted
	case core.ListConfirmed:
		return list, nil
	}

	if err := s.storage.SetListConfirmed(ctx, id, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("confirm shopping list: %w", err)
	}
	return s.storage.GetList(ctx, id)
}

// RevertToDraft moves confirmed -> draft, clearing every check mark:
// checking is a confirmed-phase concept. Reverting a draft is a no-op.
func (s *ShoppingService) RevertToDraft(ctx context.Context, id int64) (*core.ShoppingList, error) {
	list, err := s.storage.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	switch list.Status {
	case core.ListCompleted:
		return nil, core.ErrListCompleted
	case core.ListDraft:
		return list, nil
	}

	if err := s.storage.SetListDraft(ctx, id); err != nil {
		return nil, fmt.Errorf("revert shopping list: %w", err)
	}
	return s.storage.GetList(ctx, id)
}

// Complete moves confirmed -> completed: it totals the items (a stored
// override wins, null prices contribute zero), posts one expense through the
// ledger and records the transaction id on the list. The post carries the
// list-derived idempotency key, so a retry after a crash between posting and
// marking completed resolves to the already-recorded transaction instead of
// double-posting. On a failed post the list stays confirmed and the call is
// safely retryable.
func (s *ShoppingService) Complete(ctx context.Context, id int64, asOf core.Date) (*core.ShoppingList, error) {
	list, err := s.storage.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	switch list.Status {
	case core.ListCompleted:
		return nil, core.ErrListCompleted
	case core.ListDraft:
		return nil, fmt.Errorf("%w: list must be confirmed before completing", core.ErrInvalidState)
	}

	total := list.Total()
	if total.IsZero() && !s.allowEmptyComplete {
		return nil, core.ErrEmptyList
	}

	categoryID := list.CategoryID
	listID := list.ID
	tx := core.Transaction{
		Type:           core.Expense,
		AccountID:      list.AccountID,
		CategoryID:     &categoryID,
		Amount:         total,
		Description:    list.Name,
		Date:           asOf,
		ShoppingListID: &listID,
		IdempotencyKey: completionKey(list.ID),
	}

	txID, err := s.ledger.PostTransaction(ctx, tx)
	if err != nil {
		if core.IsValidation(err) || errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrLedgerPostFailed, err)
	}

	if err := s.storage.MarkListCompleted(ctx, id, total, &txID, time.Now().UTC()); err != nil {
		// The post stands; a retry replays the idempotency key and lands
		// back here to finish marking the list.
		return nil, fmt.Errorf("mark list %d completed after posting transaction %d: %w", id, txID, err)
	}

	slog.InfoContext(ctx, "Completed shopping list",
		"list_id", id,
		"transaction_id", txID,
		"total", core.FormatAmount(total))

	return s.storage.GetList(ctx, id)
}

// AddItem appends an item to a draft list. An optional price may ride along
// (template instantiation sets one); the price-editing operation itself
// stays confined to the confirmed phase.
func (s *ShoppingService) AddItem(ctx context.Context, listID int64, item core.ShoppingItem) (*core.ShoppingItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	list, err := s.storage.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if !list.ItemsEditable() {
		return nil, fmt.Errorf("%w: items can only be added to a draft list", core.ErrInvalidState)
	}

	item.ListID = listID
	item.IsChecked = false
	id, err := s.storage.AddItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	return s.storage.GetItem(ctx, listID, id)
}

// RenameItem changes an item's name. Draft only.
func (s *ShoppingService) RenameItem(ctx context.Context, listID, itemID int64, name string) (*core.ShoppingItem, error) {
	return s.mutateItem(ctx, listID, itemID, draftPhase, func(item *core.ShoppingItem) error {
		item.Name = name
		return item.Validate()
	})
}

// SetQuantity changes an item's quantity. Draft only.
func (s *ShoppingService) SetQuantity(ctx context.Context, listID, itemID int64, quantity int) (*core.ShoppingItem, error) {
	return s.mutateItem(ctx, listID, itemID, draftPhase, func(item *core.ShoppingItem) error {
		item.Quantity = quantity
		return item.Validate()
	})
}

// RemoveItem deletes an item. Draft only.
func (s *ShoppingService) RemoveItem(ctx context.Context, listID, itemID int64) error {
	list, err := s.storage.GetList(ctx, listID)
	if err != nil {
		return err
	}
	if !list.ItemsEditable() {
		return fmt.Errorf("%w: items can only be removed from a draft list", core.ErrInvalidState)
	}
	if _, err := s.storage.GetItem(ctx, listID, itemID); err != nil {
		return err
	}
	return s.storage.DeleteItem(ctx, listID, itemID)
}

// SetItemPrice records what an item actually cost. Confirmed only; a null
// price clears it.
func (s *ShoppingService) SetItemPrice(ctx context.Context, listID, itemID int64, price decimal.NullDecimal) (*core.ShoppingItem, error) {
	return s.mutateItem(ctx, listID, itemID, confirmedPhase, func(item *core.ShoppingItem) error {
		item.Price = price
		return item.Validate()
	})
}

// ToggleItemChecked flips an item's check mark. Confirmed only.
func (s *ShoppingService) ToggleItemChecked(ctx context.Context, listID, itemID int64) (*core.ShoppingItem, error) {
	return s.mutateItem(ctx, listID, itemID, confirmedPhase, func(item *core.ShoppingItem) error {
		item.IsChecked = !item.IsChecked
		return nil
	})
}

type listPhase int

const (
	draftPhase listPhase = iota
	confirmedPhase
)

func (s *ShoppingService) mutateItem(ctx context.Context, listID, itemID int64, phase listPhase, mutate func(*core.ShoppingItem) error) (*core.ShoppingItem, error) {
	list, err := s.storage.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	switch phase {
	case draftPhase:
		if !list.ItemsEditable() {
			return nil, fmt.Errorf("%w: item edits require a draft list", core.ErrInvalidState)
		}
	case confirmedPhase:
		if !list.PricingEditable() {
			return nil, fmt.Errorf("%w: prices and check marks require a confirmed list", core.ErrInvalidState)
		}
	}

	item, err := s.storage.GetItem(ctx, listID, itemID)
	if err != nil {
		return nil, err
	}
	if err := mutate(item); err != nil {
		return nil, err
	}
	if err := s.storage.UpdateItem(ctx, *item); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return s.storage.GetItem(ctx, listID, itemID)
}

func (s *ShoppingService) checkReferences(ctx context.Context, list core.ShoppingList) error {
	account, err := s.storage.GetAccount(ctx, list.AccountID)
	if err != nil {
		return fmt.Errorf("account %d: %w", list.AccountID, err)
	}
	if account.IsArchived {
		return core.Validationf("account_id", "account is archived")
	}
	category, err := s.storage.GetCategory(ctx, list.CategoryID)
	if err != nil {
		return fmt.Errorf("category %d: %w", list.CategoryID, err)
	}
	if category.Type != core.CategoryExpense {
		return core.Validationf("category_id", "shopping lists require an expense category")
	}
	return nil
}
