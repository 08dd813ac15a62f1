package http

import (
	"net/http"

	"tally/internal/core"

	"github.com/shopspring/decimal"
)

func (s *Server) handleAccountBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.getBalances(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, balances)
}

type totalBalanceResponse struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
}

func (s *Server) handleTotalBalance(w http.ResponseWriter, r *http.Request) {
	currency, err := queryCurrency(r, "currency", s.defaultCurrency)
	if err != nil {
		writeError(w, r, err)
		return
	}

	total, err := s.stats.TotalBalance(r.Context(), currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, totalBalanceResponse{Currency: currency, Total: total})
}

// handlePeriodSummary defaults to the current month when the range is
// omitted.
func (s *Server) handlePeriodSummary(w http.ResponseWriter, r *http.Request) {
	today := core.Today()
	from, err := queryDate(r, "from", core.NewDate(today.Year(), today.Month(), 1))
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryDate(r, "to", today)
	if err != nil {
		writeError(w, r, err)
		return
	}
	currency, err := queryCurrency(r, "currency", s.defaultCurrency)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := s.getSummary(r.Context(), from, to, currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}
