package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tally/internal/core"
)

const rateColumns = "id, run_id, from_currency, to_currency, rate, date, source"

// NearestRate returns the stored quote for the pair closest to the asked
// date, preferring the newer quote on a tie.
func (r *Repository) NearestRate(ctx context.Context, from, to string, on core.Date) (core.ExchangeRate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+rateColumns+` FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ?
		ORDER BY ABS(julianday(date) - julianday(?)) ASC, date DESC
		LIMIT 1`, from, to, dateToDB(on))
	rate, err := scanRate(row)
	if err != nil {
		return core.ExchangeRate{}, notFound(err, fmt.Sprintf("rate %s->%s", from, to))
	}
	return *rate, nil
}

// SaveRate upserts on (from, to, date): re-collecting a day overwrites the
// day's quote instead of stacking duplicates.
func (r *Repository) SaveRate(ctx context.Context, rate core.ExchangeRate) (core.ExchangeRate, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO exchange_rates (run_id, from_currency, to_currency, rate, date, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (from_currency, to_currency, date) DO UPDATE
		SET rate = excluded.rate, source = excluded.source, run_id = excluded.run_id
		RETURNING id`,
		nullInt64ToDB(rate.RunID), rate.FromCurrency, rate.ToCurrency,
		decToDB(rate.Rate), dateToDB(rate.Date), rate.Source, time.Now().UTC()).Scan(&rate.ID)
	if err != nil {
		return core.ExchangeRate{}, fmt.Errorf("save rate %s->%s: %w", rate.FromCurrency, rate.ToCurrency, err)
	}
	return rate, nil
}

func (r *Repository) ListRates(ctx context.Context, on core.Date) ([]core.ExchangeRate, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+rateColumns+" FROM exchange_rates WHERE date = ? ORDER BY from_currency, to_currency",
		dateToDB(on))
	if err != nil {
		return nil, fmt.Errorf("list rates: %w", err)
	}
	defer rows.Close()

	var rates []core.ExchangeRate
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, *rate)
	}
	return rates, rows.Err()
}

func scanRate(row rowScanner) (*core.ExchangeRate, error) {
	var (
		rate  core.ExchangeRate
		runID sql.NullInt64
		value string
		date  string
	)
	err := row.Scan(&rate.ID, &runID, &rate.FromCurrency, &rate.ToCurrency, &value, &date, &rate.Source)
	if err != nil {
		return nil, err
	}
	rate.RunID = nullInt64FromDB(runID)
	if rate.Rate, err = decFromDB(value); err != nil {
		return nil, err
	}
	if rate.Date, err = dateFromDB(date); err != nil {
		return nil, err
	}
	return &rate, nil
}

const runColumns = `id, run_date, status, attempts, pairs_total, pairs_saved, pairs_skipped,
	error_count, error_summary, is_backfill, started_at, finished_at, created_at`

// EnsureRun creates the pending run for a day if none exists yet and returns
// the day's run either way. run_date is unique, so concurrent callers
// converge on the same row.
func (r *Repository) EnsureRun(ctx context.Context, day core.Date, backfill bool) (core.RateRun, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rate_runs (run_date, is_backfill, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (run_date) DO NOTHING`,
		dateToDB(day), backfill, time.Now().UTC())
	if err != nil {
		return core.RateRun{}, fmt.Errorf("ensure rate run: %w", err)
	}
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM rate_runs WHERE run_date = ?", dateToDB(day))
	run, err := scanRun(row)
	if err != nil {
		return core.RateRun{}, fmt.Errorf("load rate run for %s: %w", day, err)
	}
	return *run, nil
}

func (r *Repository) GetRun(ctx context.Context, id int64) (*core.RateRun, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM rate_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("rate run %d", id))
	}
	return run, nil
}

func (r *Repository) DueRuns(ctx context.Context, limit int) ([]core.RateRun, error) {
	return r.queryRuns(ctx, `
		SELECT `+runColumns+` FROM rate_runs
		WHERE status = ? ORDER BY run_date LIMIT ?`, core.RunPending, limit)
}

func (r *Repository) ListRuns(ctx context.Context, limit int) ([]core.RateRun, error) {
	return r.queryRuns(ctx, `
		SELECT `+runColumns+` FROM rate_runs
		ORDER BY run_date DESC LIMIT ?`, limit)
}

func (r *Repository) MarkRunRunning(ctx context.Context, id int64) (core.RateRun, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rate_runs
		SET status = ?, attempts = attempts + 1, started_at = ?
		WHERE id = ?`,
		core.RunRunning, time.Now().UTC(), id)
	if err != nil {
		return core.RateRun{}, fmt.Errorf("mark run running: %w", err)
	}
	if err := requireRow(res, fmt.Sprintf("rate run %d", id)); err != nil {
		return core.RateRun{}, err
	}
	run, err := r.GetRun(ctx, id)
	if err != nil {
		return core.RateRun{}, err
	}
	return *run, nil
}

func (r *Repository) RequeueRun(ctx context.Context, id int64, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rate_runs SET status = ?, error_summary = ? WHERE id = ?`,
		core.RunPending, errMsg, id)
	if err != nil {
		return fmt.Errorf("requeue run: %w", err)
	}
	return requireRow(res, fmt.Sprintf("rate run %d", id))
}

func (r *Repository) FinishRun(ctx context.Context, run core.RateRun) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE rate_runs
		SET status = ?, pairs_total = ?, pairs_saved = ?, pairs_skipped = ?,
			error_count = ?, error_summary = ?, finished_at = ?
		WHERE id = ?`,
		run.Status, run.PairsTotal, run.PairsSaved, run.PairsSkipped,
		run.ErrorCount, run.ErrorSummary, time.Now().UTC(), run.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return requireRow(res, fmt.Sprintf("rate run %d", run.ID))
}

// ResetStaleRuns requeues runs stuck in running, left behind by a collector
// that died mid-run.
func (r *Repository) ResetStaleRuns(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE rate_runs SET status = ? WHERE status = ?",
		core.RunPending, core.RunRunning)
	if err != nil {
		return fmt.Errorf("reset stale runs: %w", err)
	}
	return nil
}

func (r *Repository) RetryFailedRuns(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE rate_runs SET status = ?, attempts = 0 WHERE status = ?",
		core.RunPending, core.RunFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed runs: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) queryRuns(ctx context.Context, query string, args ...any) ([]core.RateRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rate runs: %w", err)
	}
	defer rows.Close()

	var runs []core.RateRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*core.RateRun, error) {
	var (
		run        core.RateRun
		runDate    string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &runDate, &run.Status, &run.Attempts,
		&run.PairsTotal, &run.PairsSaved, &run.PairsSkipped,
		&run.ErrorCount, &run.ErrorSummary, &run.IsBackfill,
		&startedAt, &finishedAt, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.StartedAt = nullTimeFromDB(startedAt)
	run.FinishedAt = nullTimeFromDB(finishedAt)
	if run.RunDate, err = dateFromDB(runDate); err != nil {
		return nil, err
	}
	return &run, nil
}
