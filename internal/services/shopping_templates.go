package services

import (
	"context"
	"fmt"
	"log/slog"

	"tally/internal/core"
)

// ShoppingTemplateStore is the persistence surface for the template catalog.
// GetShoppingTemplate always loads items alongside the template.
type ShoppingTemplateStore interface {
	CreateShoppingTemplate(ctx context.Context, tpl core.ShoppingTemplate) (int64, error)
	GetShoppingTemplate(ctx context.Context, id int64) (*core.ShoppingTemplate, error)
	ListShoppingTemplates(ctx context.Context) ([]core.ShoppingTemplate, error)
	UpdateShoppingTemplate(ctx context.Context, tpl core.ShoppingTemplate) error
	DeleteShoppingTemplate(ctx context.Context, id int64) error
}

// ShoppingTemplateService manages reusable item sets and stamps out draft
// lists from them.
type ShoppingTemplateService struct {
	storage ShoppingTemplateStore
	lists   *ShoppingService
}

func NewShoppingTemplateService(storage ShoppingTemplateStore, lists *ShoppingService) *ShoppingTemplateService {
	return &ShoppingTemplateService{
		storage: storage,
		lists:   lists,
	}
}

func (s *ShoppingTemplateService) CreateTemplate(ctx context.Context, tpl core.ShoppingTemplate) (*core.ShoppingTemplate, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	id, err := s.storage.CreateShoppingTemplate(ctx, tpl)
	if err != nil {
		return nil, fmt.Errorf("save shopping template: %w", err)
	}
	return s.storage.GetShoppingTemplate(ctx, id)
}

func (s *ShoppingTemplateService) GetTemplate(ctx context.Context, id int64) (*core.ShoppingTemplate, error) {
	return s.storage.GetShoppingTemplate(ctx, id)
}

func (s *ShoppingTemplateService) ListTemplates(ctx context.Context) ([]core.ShoppingTemplate, error) {
	return s.storage.ListShoppingTemplates(ctx)
}

func (s *ShoppingTemplateService) UpdateTemplate(ctx context.Context, tpl core.ShoppingTemplate) (*core.ShoppingTemplate, error) {
	if tpl.ID <= 0 {
		return nil, core.Validationf("id", "is required")
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if err := s.storage.UpdateShoppingTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("update shopping template: %w", err)
	}
	return s.storage.GetShoppingTemplate(ctx, tpl.ID)
}

func (s *ShoppingTemplateService) DeleteTemplate(ctx context.Context, id int64) error {
	if _, err := s.storage.GetShoppingTemplate(ctx, id); err != nil {
		return err
	}
	return s.storage.DeleteShoppingTemplate(ctx, id)
}

// InstantiateRequest overrides the template's defaults for one stamped-out
// list. Zero values fall back to the template.
type InstantiateRequest struct {
	Name       string
	AccountID  int64
	CategoryID int64
}

// Instantiate creates a fresh draft list from a template, carrying over the
// items with their default quantities and prices. The account and category
// come from the request, falling back to the template's defaults; if neither
// supplies one the instantiation is rejected.
func (s *ShoppingTemplateService) Instantiate(ctx context.Context, templateID int64, req InstantiateRequest) (*core.ShoppingList, error) {
	tpl, err := s.storage.GetShoppingTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = tpl.Name
	}
	accountID := req.AccountID
	if accountID == 0 && tpl.DefaultAccountID != nil {
		accountID = *tpl.DefaultAccountID
	}
	categoryID := req.CategoryID
	if categoryID == 0 && tpl.DefaultCategoryID != nil {
		categoryID = *tpl.DefaultCategoryID
	}
	if accountID == 0 {
		return nil, core.Validationf("account_id", "no account given and the template has no default")
	}
	if categoryID == 0 {
		return nil, core.Validationf("category_id", "no category given and the template has no default")
	}

	list, err := s.lists.CreateList(ctx, core.ShoppingList{
		Name:       name,
		AccountID:  accountID,
		CategoryID: categoryID,
	})
	if err != nil {
		return nil, err
	}

	for _, it := range tpl.Items {
		_, err := s.lists.AddItem(ctx, list.ID, core.ShoppingItem{
			Name:     it.Name,
			Quantity: it.DefaultQuantity,
			Price:    it.DefaultPrice,
		})
		if err != nil {
			return nil, fmt.Errorf("copy template item %q: %w", it.Name, err)
		}
	}

	slog.InfoContext(ctx, "Instantiated shopping list from template",
		"template_id", templateID,
		"list_id", list.ID,
		"items", len(tpl.Items))

	return s.lists.GetList(ctx, list.ID)
}
