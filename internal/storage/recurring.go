package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tally/internal/core"
)

const templateColumns = `id, type, account_id, category_id, amount, description,
	frequency, day_of_week, day_of_month, start_date, end_date,
	is_active, last_executed_at, next_execution, created_at, updated_at`

func (r *Repository) CreateTemplate(ctx context.Context, tpl core.RecurringTemplate) (int64, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_templates (type, account_id, category_id, amount, description,
			frequency, day_of_week, day_of_month, start_date, end_date,
			is_active, last_executed_at, next_execution, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tpl.Type, tpl.AccountID, nullInt64ToDB(tpl.CategoryID), decToDB(tpl.Amount), tpl.Description,
		tpl.Frequency, nullIntToDB(tpl.DayOfWeek), nullIntToDB(tpl.DayOfMonth),
		dateToDB(tpl.StartDate), nullDateToDB(tpl.EndDate),
		tpl.IsActive, nullDateToDB(tpl.LastExecutedAt), nullDateToDB(tpl.NextExecution), now, now)
	if err != nil {
		return 0, fmt.Errorf("insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("template id: %w", err)
	}
	return id, nil
}

func (r *Repository) GetTemplate(ctx context.Context, id int64) (*core.RecurringTemplate, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+templateColumns+" FROM recurring_templates WHERE id = ?", id)
	tpl, err := scanTemplate(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("template %d", id))
	}
	return tpl, nil
}

func (r *Repository) ListTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	return r.queryTemplates(ctx,
		"SELECT "+templateColumns+" FROM recurring_templates ORDER BY next_execution IS NULL, next_execution, id")
}

// ListPendingTemplates returns active templates whose next execution is due
// on or before asOf. Exhausted templates (null next_execution) never match.
func (r *Repository) ListPendingTemplates(ctx context.Context, asOf core.Date) ([]core.RecurringTemplate, error) {
	return r.queryTemplates(ctx, `
		SELECT `+templateColumns+` FROM recurring_templates
		WHERE is_active = 1 AND next_execution IS NOT NULL AND next_execution <= ?
		ORDER BY next_execution, id`, dateToDB(asOf))
}

func (r *Repository) UpdateTemplate(ctx context.Context, tpl core.RecurringTemplate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET type = ?, account_id = ?, category_id = ?, amount = ?, description = ?,
			frequency = ?, day_of_week = ?, day_of_month = ?, start_date = ?, end_date = ?,
			next_execution = ?, updated_at = ?
		WHERE id = ?`,
		tpl.Type, tpl.AccountID, nullInt64ToDB(tpl.CategoryID), decToDB(tpl.Amount), tpl.Description,
		tpl.Frequency, nullIntToDB(tpl.DayOfWeek), nullIntToDB(tpl.DayOfMonth),
		dateToDB(tpl.StartDate), nullDateToDB(tpl.EndDate),
		nullDateToDB(tpl.NextExecution), time.Now().UTC(), tpl.ID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return requireRow(res, fmt.Sprintf("template %d", tpl.ID))
}

func (r *Repository) DeleteTemplate(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM recurring_templates WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return requireRow(res, fmt.Sprintf("template %d", id))
}

// AdvanceTemplate records an execution: last_executed_at moves to the run
// date and next_execution to the following due date, nil once the schedule
// is exhausted.
func (r *Repository) AdvanceTemplate(ctx context.Context, id int64, lastExecuted core.Date, next *core.Date) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET last_executed_at = ?, next_execution = ?, updated_at = ?
		WHERE id = ?`,
		dateToDB(lastExecuted), nullDateToDB(next), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("advance template: %w", err)
	}
	return requireRow(res, fmt.Sprintf("template %d", id))
}

func (r *Repository) SetTemplateActive(ctx context.Context, id int64, active bool, next *core.Date) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET is_active = ?, next_execution = ?, updated_at = ?
		WHERE id = ?`,
		active, nullDateToDB(next), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	return requireRow(res, fmt.Sprintf("template %d", id))
}

func (r *Repository) queryTemplates(ctx context.Context, query string, args ...any) ([]core.RecurringTemplate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []core.RecurringTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tpl)
	}
	return templates, rows.Err()
}

func scanTemplate(row rowScanner) (*core.RecurringTemplate, error) {
	var (
		tpl          core.RecurringTemplate
		categoryID   sql.NullInt64
		amount       string
		dayOfWeek    sql.NullInt64
		dayOfMonth   sql.NullInt64
		startDate    string
		endDate      sql.NullString
		lastExecuted sql.NullString
		next         sql.NullString
	)
	err := row.Scan(&tpl.ID, &tpl.Type, &tpl.AccountID, &categoryID, &amount, &tpl.Description,
		&tpl.Frequency, &dayOfWeek, &dayOfMonth, &startDate, &endDate,
		&tpl.IsActive, &lastExecuted, &next, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tpl.CategoryID = nullInt64FromDB(categoryID)
	tpl.DayOfWeek = nullIntFromDB(dayOfWeek)
	tpl.DayOfMonth = nullIntFromDB(dayOfMonth)

	if tpl.Amount, err = decFromDB(amount); err != nil {
		return nil, err
	}
	if tpl.StartDate, err = dateFromDB(startDate); err != nil {
		return nil, err
	}
	if tpl.EndDate, err = nullDateFromDB(endDate); err != nil {
		return nil, err
	}
	if tpl.LastExecutedAt, err = nullDateFromDB(lastExecuted); err != nil {
		return nil, err
	}
	if tpl.NextExecution, err = nullDateFromDB(next); err != nil {
		return nil, err
	}
	return &tpl, nil
}
