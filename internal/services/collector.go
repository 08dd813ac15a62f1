package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tally/internal/core"
	"tally/internal/rates"
)

// RateCollectorConfig holds configuration for the rate collector
type RateCollectorConfig struct {
	// PollInterval is how often to check for pending runs (default: 1h)
	PollInterval time.Duration

	// MaxRetries is the maximum attempts before marking a run failed (default: 3)
	MaxRetries int

	// BatchSize is the max number of runs to process per poll cycle (default: 5)
	BatchSize int
}

// DefaultRateCollectorConfig returns sensible defaults
func DefaultRateCollectorConfig() RateCollectorConfig {
	return RateCollectorConfig{
		PollInterval: 1 * time.Hour,
		MaxRetries:   3,
		BatchSize:    5,
	}
}

// RateRunStore is the slice of storage the collector needs.
type RateRunStore interface {
	// EnsureRun returns the run for a day, inserting a pending one when missing.
	EnsureRun(ctx context.Context, day core.Date, backfill bool) (core.RateRun, error)
	// DueRuns returns pending runs, oldest day first.
	DueRuns(ctx context.Context, limit int) ([]core.RateRun, error)
	// MarkRunRunning flips a run to running, increments attempts and
	// returns the updated row.
	MarkRunRunning(ctx context.Context, id int64) (core.RateRun, error)
	// RequeueRun puts a run back to pending for another attempt.
	RequeueRun(ctx context.Context, id int64, errMsg string) error
	// FinishRun records the terminal status and counters of a run.
	FinishRun(ctx context.Context, run core.RateRun) error
	// ResetStaleRuns flips runs stuck in running back to pending.
	ResetStaleRuns(ctx context.Context) error
	RetryFailedRuns(ctx context.Context) (int64, error)
	SaveRate(ctx context.Context, rate core.ExchangeRate) (core.ExchangeRate, error)
	ListCurrencies(ctx context.Context) ([]core.Currency, error)
}

// RateCollector walks the rate_runs queue: one run per calendar day,
// each run fetching both quote feeds and storing a rate for every
// ordered pair of catalog currencies.
type RateCollector struct {
	storage RateRunStore
	ecb     rates.Source
	cbr     rates.Source
	config  RateCollectorConfig

	today func() core.Date

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRateCollector creates a new rate collector
func NewRateCollector(
	storage RateRunStore,
	ecb rates.Source,
	cbr rates.Source,
	config RateCollectorConfig,
) *RateCollector {
	return &RateCollector{
		storage: storage,
		ecb:     ecb,
		cbr:     cbr,
		config:  config,
		today:   core.Today,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (c *RateCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("rate collector is already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	// Reset any runs left in running state by a previous crash
	if err := c.storage.ResetStaleRuns(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale rate runs", "error", err)
	}

	go c.runLoop(ctx)

	slog.InfoContext(ctx, "Rate collector started",
		"poll_interval", c.config.PollInterval,
		"max_retries", c.config.MaxRetries)

	return nil
}

// Stop gracefully stops the collector and waits for completion.
func (c *RateCollector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	close(c.stopCh)

	select {
	case <-c.doneCh:
		slog.InfoContext(ctx, "Rate collector stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Rate collector stop timed out")
		return ctx.Err()
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	return nil
}

// IsRunning returns whether the collector is currently running
func (c *RateCollector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// runLoop is the main processing loop
func (c *RateCollector) runLoop(ctx context.Context) {
	defer close(c.doneCh)

	pollTicker := time.NewTicker(c.config.PollInterval)
	defer pollTicker.Stop()

	// Process immediately on startup
	c.ProcessPending(ctx)

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			c.ProcessPending(ctx)
		}
	}
}

// ProcessPending makes sure today's run exists, then works through
// pending runs. Returns the number of runs processed. Also the entry
// point for one-shot collection from the worker's batch mode.
func (c *RateCollector) ProcessPending(ctx context.Context) int {
	if _, err := c.storage.EnsureRun(ctx, c.today(), false); err != nil {
		slog.ErrorContext(ctx, "Failed to ensure today's rate run", "error", err)
	}

	runs, err := c.storage.DueRuns(ctx, c.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load due rate runs", "error", err)
		return 0
	}
	if len(runs) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Processing rate runs", "count", len(runs))

	processed := 0
	for _, run := range runs {
		select {
		case <-c.stopCh:
			return processed
		case <-ctx.Done():
			return processed
		default:
		}

		c.processRun(ctx, run)
		processed++
	}
	return processed
}

// Backfill seeds pending runs for the given number of past days. The
// poll loop (or a ProcessPending call) picks them up afterwards.
func (c *RateCollector) Backfill(ctx context.Context, days int) error {
	today := c.today()
	for i := 1; i <= days; i++ {
		if _, err := c.storage.EnsureRun(ctx, today.AddDays(-i), true); err != nil {
			return fmt.Errorf("seed backfill run: %w", err)
		}
	}
	slog.InfoContext(ctx, "Seeded backfill rate runs", "days", days)
	return nil
}

// RetryFailed resets all failed runs for another round of attempts.
func (c *RateCollector) RetryFailed(ctx context.Context) (int64, error) {
	return c.storage.RetryFailedRuns(ctx)
}

func (c *RateCollector) processRun(ctx context.Context, run core.RateRun) {
	run, err := c.storage.MarkRunRunning(ctx, run.ID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to mark rate run running",
			"run_id", run.ID, "error", err)
		return
	}

	result, err := c.collectDay(ctx, run)
	if err != nil {
		c.handleRunFailure(ctx, run, err)
		return
	}

	run.PairsTotal = result.pairsTotal
	run.PairsSaved = result.pairsSaved
	run.PairsSkipped = result.pairsSkipped
	run.ErrorCount = result.errorCount
	run.ErrorSummary = result.errorSummary
	if result.errorCount > 0 {
		run.Status = core.RunCompletedWithErrors
	} else {
		run.Status = core.RunCompleted
	}

	if err := c.storage.FinishRun(ctx, run); err != nil {
		slog.ErrorContext(ctx, "Failed to finish rate run",
			"run_id", run.ID, "error", err)
		return
	}

	slog.InfoContext(ctx, "Rate run finished",
		"run_id", run.ID,
		"run_date", run.RunDate,
		"status", run.Status,
		"pairs_saved", result.pairsSaved,
		"pairs_skipped", result.pairsSkipped,
		"errors", result.errorCount)
}

// handleRunFailure requeues the run for another attempt, or marks it
// failed once attempts are exhausted.
func (c *RateCollector) handleRunFailure(ctx context.Context, run core.RateRun, collectErr error) {
	slog.WarnContext(ctx, "Rate run failed",
		"run_id", run.ID,
		"run_date", run.RunDate,
		"attempt", run.Attempts,
		"error", collectErr)

	if run.Attempts >= c.config.MaxRetries {
		run.Status = core.RunFailed
		run.ErrorSummary = truncateSummary(collectErr.Error())
		if err := c.storage.FinishRun(ctx, run); err != nil {
			slog.ErrorContext(ctx, "Failed to mark rate run failed",
				"run_id", run.ID, "error", err)
		}
		slog.ErrorContext(ctx, "Rate run failed permanently after max retries",
			"run_id", run.ID,
			"run_date", run.RunDate,
			"attempts", run.Attempts)
		return
	}

	if err := c.storage.RequeueRun(ctx, run.ID, truncateSummary(collectErr.Error())); err != nil {
		slog.ErrorContext(ctx, "Failed to requeue rate run",
			"run_id", run.ID, "error", err)
	}
}

type collectResult struct {
	pairsTotal   int
	pairsSaved   int
	pairsSkipped int
	errorCount   int
	errorSummary string
}

// collectDay fetches both feeds for the run's day and saves a quote for
// every ordered pair of catalog currencies. A per-pair problem is
// recorded in the result; a returned error means the whole day must be
// retried.
func (c *RateCollector) collectDay(ctx context.Context, run core.RateRun) (collectResult, error) {
	currencies, err := c.storage.ListCurrencies(ctx)
	if err != nil {
		return collectResult{}, fmt.Errorf("list currencies: %w", err)
	}
	if len(currencies) < 2 {
		return collectResult{}, nil
	}

	var (
		ecbSet, cbrSet *rates.RateSet
		ecbErr, cbrErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		set, err := c.ecb.FetchRates(gctx, run.RunDate)
		if err != nil {
			ecbErr = err
			return nil
		}
		ecbSet = &set
		return nil
	})
	g.Go(func() error {
		set, err := c.cbr.FetchRates(gctx, run.RunDate)
		if err != nil {
			cbrErr = err
			return nil
		}
		cbrSet = &set
		return nil
	})
	g.Wait()

	if ecbSet == nil && cbrSet == nil {
		return collectResult{}, fmt.Errorf("all sources failed: ecb: %v; cbr: %v", ecbErr, cbrErr)
	}

	var result collectResult
	var errs []string
	if ecbErr != nil {
		result.errorCount++
		errs = append(errs, fmt.Sprintf("ecb: %v", ecbErr))
	}
	if cbrErr != nil {
		result.errorCount++
		errs = append(errs, fmt.Sprintf("cbr: %v", cbrErr))
	}

	for _, from := range currencies {
		for _, to := range currencies {
			if from.Code == to.Code {
				continue
			}
			if err := ctx.Err(); err != nil {
				return collectResult{}, err
			}
			result.pairsTotal++

			rate, source, ok := resolvePair(from.Code, to.Code, ecbSet, cbrSet)
			if !ok {
				result.pairsSkipped++
				continue
			}

			rec := core.ExchangeRate{
				RunID:        &run.ID,
				FromCurrency: from.Code,
				ToCurrency:   to.Code,
				Rate:         rate,
				Date:         run.RunDate,
				Source:       source,
			}
			if _, err := c.storage.SaveRate(ctx, rec); err != nil {
				result.errorCount++
				result.pairsSkipped++
				errs = append(errs, fmt.Sprintf("%s->%s: %v", from.Code, to.Code, err))
				continue
			}
			result.pairsSaved++
		}
	}

	result.errorSummary = truncateSummary(strings.Join(errs, "; "))
	return result, nil
}

// resolvePair derives from->to out of the day's feeds. Pairs touching
// RUB come from CBR; everything else goes through ECB's EUR quotes,
// with a CBR cross as fallback when ECB does not list a leg.
func resolvePair(from, to string, ecb, cbr *rates.RateSet) (decimal.Decimal, core.RateSource, bool) {
	if from == "RUB" || to == "RUB" {
		if rate, ok := cbrCross(cbr, from, to); ok {
			return rate, core.SourceCBR, true
		}
		return decimal.Decimal{}, "", false
	}
	if rate, ok := ecbCross(ecb, from, to); ok {
		return rate, core.SourceECB, true
	}
	if rate, ok := cbrCross(cbr, from, to); ok {
		return rate, core.SourceCBR, true
	}
	return decimal.Decimal{}, "", false
}

// ecbCross works on EUR-based quotes (units per euro): from->to is
// quote(to)/quote(from), with EUR itself quoted at 1.
func ecbCross(set *rates.RateSet, from, to string) (decimal.Decimal, bool) {
	if set == nil {
		return decimal.Decimal{}, false
	}
	f, okFrom := set.Rates[from]
	t, okTo := set.Rates[to]
	if !okFrom || !okTo || !f.IsPositive() || !t.IsPositive() {
		return decimal.Decimal{}, false
	}
	return core.RoundRate(t.Div(f)), true
}

// cbrCross works on RUB-based quotes (roubles per unit): from->to is
// quote(from)/quote(to), with RUB itself quoted at 1.
func cbrCross(set *rates.RateSet, from, to string) (decimal.Decimal, bool) {
	if set == nil {
		return decimal.Decimal{}, false
	}
	f, okFrom := set.Rates[from]
	t, okTo := set.Rates[to]
	if !okFrom || !okTo || !f.IsPositive() || !t.IsPositive() {
		return decimal.Decimal{}, false
	}
	return core.RoundRate(f.Div(t)), true
}

func truncateSummary(s string) string {
	const maxLen = 500
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
