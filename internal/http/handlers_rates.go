package http

import (
	"net/http"

	"tally/internal/core"
	"tally/internal/log"

	"github.com/shopspring/decimal"
)

type rateResponse struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	Date         core.Date       `json:"date"`
}

// handleGetRates answers two shapes: with from and to it resolves a single
// pair through the rate service (nearest-rate and inversion rules apply),
// without them it lists the stored quotes for the day.
func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	on, err := queryDate(r, "date", core.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}

	from, err := queryCurrency(r, "from", "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryCurrency(r, "to", "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if from != "" || to != "" {
		if from == "" || to == "" {
			writeError(w, r, core.Validationf("from", "from and to must be given together"))
			return
		}
		rate, err := s.rates.GetRate(r.Context(), from, to, on)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, rateResponse{
			FromCurrency: from,
			ToCurrency:   to,
			Rate:         rate,
			Date:         on,
		})
		return
	}

	rates, err := s.storage.ListRates(r.Context(), on)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rates)
}

type manualRateRequest struct {
	FromCurrency string          `json:"from_currency"`
	ToCurrency   string          `json:"to_currency"`
	Rate         decimal.Decimal `json:"rate"`
	Date         core.Date       `json:"date"`
}

func (s *Server) handleSaveManualRate(w http.ResponseWriter, r *http.Request) {
	var req manualRateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	on := req.Date
	if on.IsZero() {
		on = core.Today()
	}
	saved, err := s.rates.SaveManualRate(r.Context(), req.FromCurrency, req.ToCurrency, req.Rate, on)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Manual rate saved",
		"from", saved.FromCurrency,
		"to", saved.ToCurrency,
		"rate", saved.Rate.String(),
		log.FieldDate, saved.Date.String())
	writeJSON(w, r, http.StatusCreated, saved)
}

func (s *Server) handleListRateRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 30)
	if err != nil {
		writeError(w, r, err)
		return
	}

	runs, err := s.storage.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, runs)
}

// handleTriggerRateCollection queues a run for the collector worker rather
// than fetching inline; the API process has no provider client.
func (s *Server) handleTriggerRateCollection(w http.ResponseWriter, r *http.Request) {
	day, err := queryDate(r, "date", core.Today())
	if err != nil {
		writeError(w, r, err)
		return
	}
	backfill := queryBool(r, "backfill")

	run, err := s.storage.EnsureRun(r.Context(), day, backfill)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s.logAction(r, "Rate collection queued",
		log.FieldRunID, run.ID,
		log.FieldDate, day.String(),
		"backfill", backfill)
	writeJSON(w, r, http.StatusAccepted, run)
}
