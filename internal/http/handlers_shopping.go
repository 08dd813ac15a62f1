package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/services"

	"github.com/shopspring/decimal"
)

type shoppingListRequest struct {
	Name       string `json:"name"`
	AccountID  int64  `json:"account_id"`
	CategoryID int64  `json:"category_id"`
}

func (req shoppingListRequest) toList() core.ShoppingList {
	return core.ShoppingList{
		Name:       strings.TrimSpace(req.Name),
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
	}
}

func (s *Server) handleCreateShoppingList(w http.ResponseWriter, r *http.Request) {
	var req shoppingListRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.shopping.CreateList(r.Context(), req.toList())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Shopping list created", log.FieldListID, created.ID)
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleListShoppingLists(w http.ResponseWriter, r *http.Request) {
	var status *core.ListStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st := core.ListStatus(strings.ToLower(raw))
		if !st.Valid() {
			writeError(w, r, core.Validationf("status", "must be draft, confirmed or completed"))
			return
		}
		status = &st
	}

	lists, err := s.shopping.ListLists(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, lists)
}

func (s *Server) handleGetShoppingList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.shopping.GetList(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleUpdateShoppingList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req shoppingListRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	list := req.toList()
	list.ID = id
	updated, err := s.shopping.UpdateList(r.Context(), list)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteShoppingList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.shopping.DeleteList(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Shopping list deleted", log.FieldListID, id)
	writeJSON(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleConfirmShoppingList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.shopping.Confirm(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Shopping list confirmed", log.FieldListID, id)
	writeJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleRevertShoppingList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.shopping.RevertToDraft(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Shopping list reverted to draft", log.FieldListID, id)
	writeJSON(w, r, http.StatusOK, list)
}

// handleCompleteShoppingList posts the list total to the ledger, so it
// counts as a write to derived balances.
func (s *Server) handleCompleteShoppingList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	asOf, err := queryDate(r, "as_of", core.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.shopping.Complete(r.Context(), id, asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	s.recordPost()
	var txID int64
	if list.TransactionID != nil {
		txID = *list.TransactionID
	}
	s.logAction(r, "Shopping list completed",
		log.FieldListID, id,
		log.FieldTransactionID, txID)
	writeJSON(w, r, http.StatusOK, list)
}

type shoppingItemRequest struct {
	Name     string              `json:"name"`
	Quantity int                 `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
}

func (s *Server) handleAddShoppingItem(w http.ResponseWriter, r *http.Request) {
	listID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req shoppingItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	item, err := s.shopping.AddItem(r.Context(), listID, core.ShoppingItem{
		Name:     strings.TrimSpace(req.Name),
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, item)
}

// shoppingItemUpdate distinguishes absent fields from explicit values.
// Price uses a raw message so that "price": null clears the price while an
// absent price leaves it untouched.
type shoppingItemUpdate struct {
	Name     *string         `json:"name"`
	Quantity *int            `json:"quantity"`
	Price    json.RawMessage `json:"price"`
}

func (s *Server) handleUpdateShoppingItem(w http.ResponseWriter, r *http.Request) {
	listID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req shoppingItemUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == nil && req.Quantity == nil && req.Price == nil {
		writeError(w, r, core.Validationf("body", "no fields to update"))
		return
	}

	ctx := r.Context()
	var item *core.ShoppingItem
	if req.Name != nil {
		if item, err = s.shopping.RenameItem(ctx, listID, itemID, strings.TrimSpace(*req.Name)); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Quantity != nil {
		if item, err = s.shopping.SetQuantity(ctx, listID, itemID, *req.Quantity); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Price != nil {
		var price decimal.NullDecimal
		if err := price.UnmarshalJSON(req.Price); err != nil {
			writeError(w, r, core.Validationf("price", "must be a number or null"))
			return
		}
		if item, err = s.shopping.SetItemPrice(ctx, listID, itemID, price); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, item)
}

func (s *Server) handleRemoveShoppingItem(w http.ResponseWriter, r *http.Request) {
	listID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.shopping.RemoveItem(r.Context(), listID, itemID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleToggleShoppingItem(w http.ResponseWriter, r *http.Request) {
	listID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	itemID, err := pathID(r, "itemID")
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := s.shopping.ToggleItemChecked(r.Context(), listID, itemID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

type shoppingTemplateItemRequest struct {
	Name            string              `json:"name"`
	DefaultQuantity int                 `json:"default_quantity"`
	DefaultPrice    decimal.NullDecimal `json:"default_price"`
}

type shoppingTemplateRequest struct {
	Name              string                        `json:"name"`
	Color             string                        `json:"color"`
	Icon              string                        `json:"icon"`
	DefaultAccountID  *int64                        `json:"default_account_id"`
	DefaultCategoryID *int64                        `json:"default_category_id"`
	Items             []shoppingTemplateItemRequest `json:"items"`
}

func (req shoppingTemplateRequest) toTemplate() core.ShoppingTemplate {
	tpl := core.ShoppingTemplate{
		Name:              strings.TrimSpace(req.Name),
		Color:             strings.TrimSpace(req.Color),
		Icon:              strings.TrimSpace(req.Icon),
		DefaultAccountID:  req.DefaultAccountID,
		DefaultCategoryID: req.DefaultCategoryID,
	}
	for _, it := range req.Items {
		qty := it.DefaultQuantity
		if qty == 0 {
			qty = 1
		}
		tpl.Items = append(tpl.Items, core.ShoppingTemplateItem{
			Name:            strings.TrimSpace(it.Name),
			DefaultQuantity: qty,
			DefaultPrice:    it.DefaultPrice,
		})
	}
	return tpl
}

func (s *Server) handleCreateShoppingTemplate(w http.ResponseWriter, r *http.Request) {
	var req shoppingTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.shoppingTemplates.CreateTemplate(r.Context(), req.toTemplate())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Shopping template created", log.FieldTemplateID, created.ID)
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleListShoppingTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.shoppingTemplates.ListTemplates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, templates)
}

func (s *Server) handleGetShoppingTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	tpl, err := s.shoppingTemplates.GetTemplate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tpl)
}

func (s *Server) handleUpdateShoppingTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req shoppingTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	tpl := req.toTemplate()
	tpl.ID = id
	updated, err := s.shoppingTemplates.UpdateTemplate(r.Context(), tpl)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteShoppingTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.shoppingTemplates.DeleteTemplate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Shopping template deleted", log.FieldTemplateID, id)
	writeJSON(w, r, http.StatusNoContent, nil)
}

type instantiateTemplateRequest struct {
	Name       string `json:"name"`
	AccountID  int64  `json:"account_id"`
	CategoryID int64  `json:"category_id"`
}

func (s *Server) handleInstantiateShoppingTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req instantiateTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	list, err := s.shoppingTemplates.Instantiate(r.Context(), id, services.InstantiateRequest{
		Name:       strings.TrimSpace(req.Name),
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Shopping template instantiated",
		log.FieldTemplateID, id,
		log.FieldListID, list.ID)
	writeJSON(w, r, http.StatusCreated, list)
}
