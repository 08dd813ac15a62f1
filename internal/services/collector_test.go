package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/rates"
)

type fakeSource struct {
	name core.RateSource
	set  rates.RateSet
	err  error
}

func (s *fakeSource) Name() core.RateSource { return s.name }

func (s *fakeSource) FetchRates(_ context.Context, _ core.Date) (rates.RateSet, error) {
	if s.err != nil {
		return rates.RateSet{}, s.err
	}
	return s.set, nil
}

func quotes(day core.Date, pairs map[string]string) rates.RateSet {
	set := rates.RateSet{Date: day, Rates: make(map[string]decimal.Decimal)}
	for code, rate := range pairs {
		set.Rates[code] = dec(rate)
	}
	return set
}

type fakeRunStore struct {
	runs       []core.RateRun
	saved      []core.ExchangeRate
	currencies []core.Currency
	nextID     int64
	saveErr    error
}

func newFakeRunStore(codes ...string) *fakeRunStore {
	s := &fakeRunStore{nextID: 1}
	for _, code := range codes {
		s.currencies = append(s.currencies, core.Currency{Code: code, Name: code, DecimalPlaces: 2})
	}
	return s
}

func (s *fakeRunStore) EnsureRun(_ context.Context, day core.Date, backfill bool) (core.RateRun, error) {
	for _, r := range s.runs {
		if r.RunDate.Equal(day) {
			return r, nil
		}
	}
	run := core.RateRun{ID: s.nextID, RunDate: day, Status: core.RunPending, IsBackfill: backfill}
	s.nextID++
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *fakeRunStore) DueRuns(_ context.Context, limit int) ([]core.RateRun, error) {
	var due []core.RateRun
	for _, r := range s.runs {
		if r.Status == core.RunPending && len(due) < limit {
			due = append(due, r)
		}
	}
	return due, nil
}

func (s *fakeRunStore) MarkRunRunning(_ context.Context, id int64) (core.RateRun, error) {
	for i := range s.runs {
		if s.runs[i].ID == id {
			s.runs[i].Status = core.RunRunning
			s.runs[i].Attempts++
			return s.runs[i], nil
		}
	}
	return core.RateRun{}, core.ErrNotFound
}

func (s *fakeRunStore) RequeueRun(_ context.Context, id int64, errMsg string) error {
	for i := range s.runs {
		if s.runs[i].ID == id {
			s.runs[i].Status = core.RunPending
			s.runs[i].ErrorSummary = errMsg
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *fakeRunStore) FinishRun(_ context.Context, run core.RateRun) error {
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *fakeRunStore) ResetStaleRuns(_ context.Context) error {
	for i := range s.runs {
		if s.runs[i].Status == core.RunRunning {
			s.runs[i].Status = core.RunPending
		}
	}
	return nil
}

func (s *fakeRunStore) RetryFailedRuns(_ context.Context) (int64, error) {
	var n int64
	for i := range s.runs {
		if s.runs[i].Status == core.RunFailed {
			s.runs[i].Status = core.RunPending
			s.runs[i].Attempts = 0
			n++
		}
	}
	return n, nil
}

func (s *fakeRunStore) SaveRate(_ context.Context, rate core.ExchangeRate) (core.ExchangeRate, error) {
	if s.saveErr != nil {
		return core.ExchangeRate{}, s.saveErr
	}
	for i := range s.saved {
		r := s.saved[i]
		if r.FromCurrency == rate.FromCurrency && r.ToCurrency == rate.ToCurrency && r.Date.Equal(rate.Date) {
			rate.ID = r.ID
			s.saved[i] = rate
			return rate, nil
		}
	}
	rate.ID = s.nextID
	s.nextID++
	s.saved = append(s.saved, rate)
	return rate, nil
}

func (s *fakeRunStore) ListCurrencies(_ context.Context) ([]core.Currency, error) {
	return s.currencies, nil
}

func (s *fakeRunStore) findSaved(from, to string) (core.ExchangeRate, bool) {
	for _, r := range s.saved {
		if r.FromCurrency == from && r.ToCurrency == to {
			return r, true
		}
	}
	return core.ExchangeRate{}, false
}

func newCollectorFixture(store *fakeRunStore, ecb, cbr rates.Source, cfg RateCollectorConfig) *RateCollector {
	c := NewRateCollector(store, ecb, cbr, cfg)
	c.today = func() core.Date { return core.NewDate(2024, 1, 15) }
	return c
}

func TestCollectorProcessPending(t *testing.T) {
	day := core.NewDate(2024, 1, 15)
	store := newFakeRunStore("EUR", "USD", "RUB")
	ecb := &fakeSource{name: core.SourceECB, set: quotes(day, map[string]string{"EUR": "1", "USD": "1.25"})}
	cbr := &fakeSource{name: core.SourceCBR, set: quotes(day, map[string]string{"RUB": "1", "USD": "90", "EUR": "112.5"})}
	c := newCollectorFixture(store, ecb, cbr, DefaultRateCollectorConfig())

	if got := c.ProcessPending(context.Background()); got != 1 {
		t.Fatalf("ProcessPending() = %d runs, want 1", got)
	}

	run := store.runs[0]
	if run.Status != core.RunCompleted {
		t.Fatalf("run status = %s, want completed (%s)", run.Status, run.ErrorSummary)
	}
	if run.PairsTotal != 6 || run.PairsSaved != 6 || run.PairsSkipped != 0 {
		t.Errorf("counters = total %d saved %d skipped %d, want 6/6/0",
			run.PairsTotal, run.PairsSaved, run.PairsSkipped)
	}

	tests := []struct {
		from, to string
		want     string
		source   core.RateSource
	}{
		{"EUR", "USD", "1.25", core.SourceECB},
		{"USD", "EUR", "0.8", core.SourceECB},
		{"EUR", "RUB", "112.5", core.SourceCBR},
		{"RUB", "EUR", "0.00888889", core.SourceCBR},
		{"USD", "RUB", "90", core.SourceCBR},
		{"RUB", "USD", "0.01111111", core.SourceCBR},
	}
	for _, tt := range tests {
		saved, ok := store.findSaved(tt.from, tt.to)
		if !ok {
			t.Errorf("no saved rate for %s->%s", tt.from, tt.to)
			continue
		}
		if !saved.Rate.Equal(dec(tt.want)) {
			t.Errorf("%s->%s = %s, want %s", tt.from, tt.to, saved.Rate, tt.want)
		}
		if saved.Source != tt.source {
			t.Errorf("%s->%s source = %s, want %s", tt.from, tt.to, saved.Source, tt.source)
		}
		if saved.RunID == nil || *saved.RunID != run.ID {
			t.Errorf("%s->%s not linked to run %d", tt.from, tt.to, run.ID)
		}
		if !saved.Date.Equal(day) {
			t.Errorf("%s->%s date = %s, want %s", tt.from, tt.to, saved.Date, day)
		}
	}

	// A second pass finds nothing pending and re-saves nothing.
	if got := c.ProcessPending(context.Background()); got != 0 {
		t.Errorf("second ProcessPending() = %d runs, want 0", got)
	}
}

func TestCollectorFallsBackToCBRCross(t *testing.T) {
	day := core.NewDate(2024, 1, 15)
	store := newFakeRunStore("EUR", "KZT")
	// ECB does not list KZT; CBR quotes both legs against the rouble.
	ecb := &fakeSource{name: core.SourceECB, set: quotes(day, map[string]string{"EUR": "1", "USD": "1.25"})}
	cbr := &fakeSource{name: core.SourceCBR, set: quotes(day, map[string]string{"RUB": "1", "EUR": "112.5", "KZT": "0.2"})}
	c := newCollectorFixture(store, ecb, cbr, DefaultRateCollectorConfig())

	c.ProcessPending(context.Background())

	saved, ok := store.findSaved("EUR", "KZT")
	if !ok {
		t.Fatal("no saved rate for EUR->KZT")
	}
	if !saved.Rate.Equal(dec("562.5")) {
		t.Errorf("EUR->KZT = %s, want 562.5", saved.Rate)
	}
	if saved.Source != core.SourceCBR {
		t.Errorf("EUR->KZT source = %s, want cbr", saved.Source)
	}

	back, ok := store.findSaved("KZT", "EUR")
	if !ok {
		t.Fatal("no saved rate for KZT->EUR")
	}
	if !back.Rate.Equal(dec("0.00177778")) {
		t.Errorf("KZT->EUR = %s, want 0.00177778", back.Rate)
	}
}

func TestCollectorCompletesWithErrorsWhenOneSourceDown(t *testing.T) {
	day := core.NewDate(2024, 1, 15)
	store := newFakeRunStore("EUR", "USD", "RUB")
	ecb := &fakeSource{name: core.SourceECB, err: fmt.Errorf("ecb timeout")}
	cbr := &fakeSource{name: core.SourceCBR, set: quotes(day, map[string]string{"RUB": "1", "USD": "90", "EUR": "112.5"})}
	c := newCollectorFixture(store, ecb, cbr, DefaultRateCollectorConfig())

	c.ProcessPending(context.Background())

	run := store.runs[0]
	if run.Status != core.RunCompletedWithErrors {
		t.Fatalf("run status = %s, want completed_with_errors", run.Status)
	}
	if run.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", run.ErrorCount)
	}
	if run.ErrorSummary == "" {
		t.Error("error summary is empty")
	}
	// Every pair still resolves through the surviving source.
	if run.PairsSaved != 6 {
		t.Errorf("pairs saved = %d, want 6", run.PairsSaved)
	}
	if saved, ok := store.findSaved("EUR", "USD"); !ok || !saved.Rate.Equal(dec("1.25")) {
		t.Errorf("EUR->USD via CBR cross = %v, want 1.25", saved.Rate)
	}
}

func TestCollectorRetriesThenFails(t *testing.T) {
	store := newFakeRunStore("EUR", "USD")
	ecb := &fakeSource{name: core.SourceECB, err: fmt.Errorf("ecb down")}
	cbr := &fakeSource{name: core.SourceCBR, err: fmt.Errorf("cbr down")}
	cfg := DefaultRateCollectorConfig()
	cfg.MaxRetries = 2
	c := newCollectorFixture(store, ecb, cbr, cfg)

	c.ProcessPending(context.Background())
	run := store.runs[0]
	if run.Status != core.RunPending {
		t.Fatalf("after first attempt status = %s, want pending (requeued)", run.Status)
	}
	if run.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", run.Attempts)
	}

	c.ProcessPending(context.Background())
	run = store.runs[0]
	if run.Status != core.RunFailed {
		t.Fatalf("after max retries status = %s, want failed", run.Status)
	}
	if run.ErrorSummary == "" {
		t.Error("failed run has no error summary")
	}

	// RetryFailed puts the run back in the queue.
	n, err := c.RetryFailed(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed() = %d, %v, want 1, nil", n, err)
	}
	if store.runs[0].Status != core.RunPending {
		t.Errorf("status after retry = %s, want pending", store.runs[0].Status)
	}
}

func TestCollectorSkipsUnresolvablePairs(t *testing.T) {
	day := core.NewDate(2024, 1, 15)
	store := newFakeRunStore("EUR", "GBP")
	// Neither feed lists GBP.
	ecb := &fakeSource{name: core.SourceECB, set: quotes(day, map[string]string{"EUR": "1"})}
	cbr := &fakeSource{name: core.SourceCBR, set: quotes(day, map[string]string{"RUB": "1"})}
	c := newCollectorFixture(store, ecb, cbr, DefaultRateCollectorConfig())

	c.ProcessPending(context.Background())

	run := store.runs[0]
	if run.Status != core.RunCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
	if run.PairsTotal != 2 || run.PairsSaved != 0 || run.PairsSkipped != 2 {
		t.Errorf("counters = total %d saved %d skipped %d, want 2/0/2",
			run.PairsTotal, run.PairsSaved, run.PairsSkipped)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d rates, want 0", len(store.saved))
	}
}

func TestCollectorCountsSaveFailures(t *testing.T) {
	day := core.NewDate(2024, 1, 15)
	store := newFakeRunStore("EUR", "USD")
	store.saveErr = fmt.Errorf("database is locked")
	ecb := &fakeSource{name: core.SourceECB, set: quotes(day, map[string]string{"EUR": "1", "USD": "1.25"})}
	cbr := &fakeSource{name: core.SourceCBR, set: quotes(day, map[string]string{"RUB": "1"})}
	c := newCollectorFixture(store, ecb, cbr, DefaultRateCollectorConfig())

	c.ProcessPending(context.Background())

	run := store.runs[0]
	if run.Status != core.RunCompletedWithErrors {
		t.Fatalf("run status = %s, want completed_with_errors", run.Status)
	}
	if run.PairsSaved != 0 || run.PairsSkipped != 2 || run.ErrorCount != 2 {
		t.Errorf("counters = saved %d skipped %d errors %d, want 0/2/2",
			run.PairsSaved, run.PairsSkipped, run.ErrorCount)
	}
}

func TestCollectorBackfill(t *testing.T) {
	store := newFakeRunStore("EUR", "USD")
	day := core.NewDate(2024, 1, 15)
	ecb := &fakeSource{name: core.SourceECB, set: quotes(day, map[string]string{"EUR": "1", "USD": "1.25"})}
	cbr := &fakeSource{name: core.SourceCBR, set: quotes(day, map[string]string{"RUB": "1"})}
	c := newCollectorFixture(store, ecb, cbr, DefaultRateCollectorConfig())

	if err := c.Backfill(context.Background(), 3); err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}
	if len(store.runs) != 3 {
		t.Fatalf("seeded %d runs, want 3", len(store.runs))
	}
	for i, run := range store.runs {
		want := core.NewDate(2024, 1, 15).AddDays(-(i + 1))
		if !run.RunDate.Equal(want) {
			t.Errorf("run %d date = %s, want %s", i, run.RunDate, want)
		}
		if !run.IsBackfill {
			t.Errorf("run %d is not flagged as backfill", i)
		}
	}

	// The normal pass adds today's run and works through all four.
	if got := c.ProcessPending(context.Background()); got != 4 {
		t.Fatalf("ProcessPending() = %d runs, want 4", got)
	}
	for _, run := range store.runs {
		if run.Status != core.RunCompleted {
			t.Errorf("run %s status = %s, want completed", run.RunDate, run.Status)
		}
	}
}
