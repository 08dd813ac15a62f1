package http

import (
	"net/http"
	"strings"

	"tally/internal/core"
	"tally/internal/log"

	"github.com/shopspring/decimal"
)

type recurringTemplateRequest struct {
	Type        string          `json:"type"`
	AccountID   int64           `json:"account_id"`
	CategoryID  *int64          `json:"category_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Frequency   string          `json:"frequency"`
	DayOfWeek   *int            `json:"day_of_week"`
	DayOfMonth  *int            `json:"day_of_month"`
	StartDate   core.Date       `json:"start_date"`
	EndDate     *core.Date      `json:"end_date"`
	IsActive    *bool           `json:"is_active"`
}

func (req recurringTemplateRequest) toTemplate() core.RecurringTemplate {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return core.RecurringTemplate{
		Type:        core.TransactionType(strings.ToLower(strings.TrimSpace(req.Type))),
		AccountID:   req.AccountID,
		CategoryID:  req.CategoryID,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		Frequency:   core.Frequency(strings.ToLower(strings.TrimSpace(req.Frequency))),
		DayOfWeek:   req.DayOfWeek,
		DayOfMonth:  req.DayOfMonth,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		IsActive:    active,
	}
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req recurringTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.recurring.CreateTemplate(r.Context(), req.toTemplate(), core.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Recurring template created",
		log.FieldTemplateID, created.ID,
		"frequency", string(created.Frequency),
		log.FieldAmount, created.Amount.String())
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	templates, err := s.recurring.ListTemplates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, templates)
}

func (s *Server) handleGetRecurring(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	tpl, err := s.recurring.GetTemplate(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, tpl)
}

func (s *Server) handleUpdateRecurring(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req recurringTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	tpl := req.toTemplate()
	tpl.ID = id
	updated, err := s.recurring.UpdateTemplate(r.Context(), tpl, core.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteRecurring(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.recurring.DeleteTemplate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Recurring template deleted", log.FieldTemplateID, id)
	writeJSON(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleListPendingRecurring(w http.ResponseWriter, r *http.Request) {
	asOf, err := queryDate(r, "as_of", core.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}

	templates, err := s.recurring.ListPending(r.Context(), asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, templates)
}

// handleExecuteRecurring posts one occurrence of a due template. The worker
// uses the same service path; this endpoint exists for catch-up from the UI.
func (s *Server) handleExecuteRecurring(w http.ResponseWriter, r *http.Request) {
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

	tpl, err := s.recurring.Execute(r.Context(), id, asOf)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	s.recordPost()
	s.logAction(r, "Recurring template executed",
		log.FieldTemplateID, id,
		log.FieldDate, asOf.String())
	writeJSON(w, r, http.StatusOK, tpl)
}

func (s *Server) handleActivateRecurring(w http.ResponseWriter, r *http.Request) {
	s.setRecurringActive(w, r, true)
}

func (s *Server) handleDeactivateRecurring(w http.ResponseWriter, r *http.Request) {
	s.setRecurringActive(w, r, false)
}

func (s *Server) setRecurringActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	tpl, err := s.recurring.SetActive(r.Context(), id, active, core.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Recurring template state changed",
		log.FieldTemplateID, id,
		"active", active)
	writeJSON(w, r, http.StatusOK, tpl)
}
