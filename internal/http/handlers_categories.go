package http

import (
	"net/http"
	"strings"

	"tally/internal/core"
)

type categoryRequest struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Color      string `json:"color"`
	Icon       string `json:"icon"`
	IsArchived bool   `json:"is_archived"`
}

func (req categoryRequest) toCategory() core.Category {
	return core.Category{
		Name:       strings.TrimSpace(req.Name),
		Type:       core.CategoryType(strings.ToLower(strings.TrimSpace(req.Type))),
		Color:      strings.TrimSpace(req.Color),
		Icon:       strings.TrimSpace(req.Icon),
		IsArchived: req.IsArchived,
	}
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	category := req.toCategory()
	if err := category.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.storage.CreateCategory(r.Context(), category)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.storage.GetCategory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	var filter *core.CategoryType
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		ct := core.CategoryType(strings.ToLower(raw))
		if ct != core.CategoryIncome && ct != core.CategoryExpense {
			writeError(w, r, core.Validationf("type", "must be income or expense"))
			return
		}
		filter = &ct
	}

	categories, err := s.storage.ListCategories(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, categories)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	category, err := s.storage.GetCategory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, category)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	category := req.toCategory()
	category.ID = id
	if err := category.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.storage.UpdateCategory(r.Context(), category); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.storage.GetCategory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.storage.DeleteCategory(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	writeJSON(w, r, http.StatusNoContent, nil)
}
