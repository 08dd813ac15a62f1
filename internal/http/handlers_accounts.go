package http

import (
	"net/http"
	"strings"

	"tally/internal/core"
	"tally/internal/log"
)

type accountRequest struct {
	Name         string `json:"name"`
	CurrencyCode string `json:"currency_code"`
	Color        string `json:"color"`
	Icon         string `json:"icon"`
	IsArchived   bool   `json:"is_archived"`
}

func (req accountRequest) toAccount() core.Account {
	return core.Account{
		Name:         strings.TrimSpace(req.Name),
		CurrencyCode: strings.ToUpper(strings.TrimSpace(req.CurrencyCode)),
		Color:        strings.TrimSpace(req.Color),
		Icon:         strings.TrimSpace(req.Icon),
		IsArchived:   req.IsArchived,
	}
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	account := req.toAccount()
	if err := account.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.storage.CreateAccount(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := s.storage.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	s.logAction(r, "Account created", log.FieldAccountID, id, "name", created.Name, log.FieldCurrency, created.CurrencyCode)
	writeJSON(w, r, http.StatusCreated, created)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.storage.ListAccounts(r.Context(), queryBool(r, "include_archived"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, accounts)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	account, err := s.storage.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, account)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	account := req.toAccount()
	account.ID = id
	if err := account.Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.storage.UpdateAccount(r.Context(), account); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.storage.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.storage.DeleteAccount(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	s.invalidateDerived()
	s.logAction(r, "Account deleted", log.FieldAccountID, id)
	writeJSON(w, r, http.StatusNoContent, nil)
}

func (s *Server) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := s.storage.ListCurrencies(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, currencies)
}
