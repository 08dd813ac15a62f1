package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/core"
)

// TemplateStore is the persistence surface for recurring templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl core.RecurringTemplate) (int64, error)
	GetTemplate(ctx context.Context, id int64) (*core.RecurringTemplate, error)
	ListTemplates(ctx context.Context) ([]core.RecurringTemplate, error)
	ListPendingTemplates(ctx context.Context, asOf core.Date) ([]core.RecurringTemplate, error)
	UpdateTemplate(ctx context.Context, tpl core.RecurringTemplate) error
	DeleteTemplate(ctx context.Context, id int64) error
	AdvanceTemplate(ctx context.Context, id int64, lastExecuted core.Date, next *core.Date) error
	SetTemplateActive(ctx context.Context, id int64, active bool, next *core.Date) error
	GetAccount(ctx context.Context, id int64) (*core.Account, error)
	GetCategory(ctx context.Context, id int64) (*core.Category, error)
}

// RecurringService manages recurring templates and turns due ones into
// ledger transactions.
type RecurringService struct {
	storage TemplateStore
	ledger  LedgerPoster
}

func NewRecurringService(storage TemplateStore, ledger LedgerPoster) *RecurringService {
	return &RecurringService{
		storage: storage,
		ledger:  ledger,
	}
}

// executionKey derives the idempotency key for one (template, date)
// occurrence. Retries of the same occurrence always produce the same key.
func executionKey(templateID int64, asOf core.Date) string {
	return fmt.Sprintf("recurring:%d:%s", templateID, asOf)
}

// CreateTemplate validates and stores a template with its first execution
// date precomputed.
func (s *RecurringService) CreateTemplate(ctx context.Context, tpl core.RecurringTemplate, asOf core.Date) (*core.RecurringTemplate, error) {
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, tpl); err != nil {
		return nil, err
	}

	tpl.IsActive = true
	tpl.LastExecutedAt = nil
	next, err := ComputeNextExecution(tpl, asOf)
	if err != nil {
		return nil, err
	}
	tpl.NextExecution = next

	id, err := s.storage.CreateTemplate(ctx, tpl)
	if err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return s.storage.GetTemplate(ctx, id)
}

func (s *RecurringService) GetTemplate(ctx context.Context, id int64) (*core.RecurringTemplate, error) {
	return s.storage.GetTemplate(ctx, id)
}

func (s *RecurringService) ListTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	return s.storage.ListTemplates(ctx)
}

// UpdateTemplate replaces the schedule definition and recomputes the next
// execution. The execution history (last_executed_at) is preserved.
func (s *RecurringService) UpdateTemplate(ctx context.Context, tpl core.RecurringTemplate, asOf core.Date) (*core.RecurringTemplate, error) {
	if tpl.ID <= 0 {
		return nil, core.Validationf("id", "is required")
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, tpl); err != nil {
		return nil, err
	}

	current, err := s.storage.GetTemplate(ctx, tpl.ID)
	if err != nil {
		return nil, err
	}
	tpl.IsActive = current.IsActive
	tpl.LastExecutedAt = current.LastExecutedAt

	next, err := ComputeNextExecution(tpl, asOf)
	if err != nil {
		return nil, err
	}
	tpl.NextExecution = next

	if err := s.storage.UpdateTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return s.storage.GetTemplate(ctx, tpl.ID)
}

func (s *RecurringService) DeleteTemplate(ctx context.Context, id int64) error {
	return s.storage.DeleteTemplate(ctx, id)
}

// SetActive toggles a template. Toggling never rewrites history: only the
// next execution date is recomputed, off the supplied evaluation date.
func (s *RecurringService) SetActive(ctx context.Context, id int64, active bool, asOf core.Date) (*core.RecurringTemplate, error) {
	tpl, err := s.storage.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := ComputeNextExecution(*tpl, asOf)
	if err != nil {
		return nil, err
	}

	if err := s.storage.SetTemplateActive(ctx, id, active, next); err != nil {
		return nil, fmt.Errorf("toggle template: %w", err)
	}
	return s.storage.GetTemplate(ctx, id)
}

// ListPending returns all active templates due on or before asOf.
func (s *RecurringService) ListPending(ctx context.Context, asOf core.Date) ([]core.RecurringTemplate, error) {
	return s.storage.ListPendingTemplates(ctx, asOf)
}

// Execute turns one due occurrence of a template into a ledger transaction
// and advances the schedule. The post carries an idempotency key derived
// from (template, date), so re-running after a crash between the post and
// the advance cannot double-post: the poster returns the transaction it
// already recorded and only the advance is repeated.
func (s *RecurringService) Execute(ctx context.Context, id int64, asOf core.Date) (*core.RecurringTemplate, error) {
	tpl, err := s.storage.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive {
		return nil, core.ErrTemplateInactive
	}
	if tpl.NextExecution == nil {
		return nil, core.ErrTemplateExpired
	}
	if tpl.NextExecution.After(asOf) {
		return nil, core.ErrNotYetDue
	}

	templateID := tpl.ID
	tx := core.Transaction{
		Type:                tpl.Type,
		AccountID:           tpl.AccountID,
		CategoryID:          tpl.CategoryID,
		Amount:              tpl.Amount,
		Description:         tpl.Description,
		Date:                asOf,
		RecurringTemplateID: &templateID,
		IdempotencyKey:      executionKey(tpl.ID, asOf),
	}

	txID, err := s.ledger.PostTransaction(ctx, tx)
	if err != nil {
		if core.IsValidation(err) || errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrLedgerPostFailed, err)
	}

	next, err := ComputeNextExecution(withExecution(*tpl, asOf), asOf)
	if err != nil {
		return nil, err
	}

	if err := s.storage.AdvanceTemplate(ctx, tpl.ID, asOf, next); err != nil {
		// The post stands; a retry replays the idempotency key and lands
		// back here to finish the advance.
		return nil, fmt.Errorf("advance template %d after posting transaction %d: %w", tpl.ID, txID, err)
	}

	slog.InfoContext(ctx, "Executed recurring template",
		"template_id", tpl.ID,
		"transaction_id", txID,
		"date", asOf.String(),
		"next", formatNext(next))

	return s.storage.GetTemplate(ctx, tpl.ID)
}

// BackfillReport summarizes the catch-up posts for one template.
type BackfillReport struct {
	TemplateID int64
	Executed   int
	Dates      []core.Date
	Err        error
}

// Backfill executes every overdue occurrence of one template in order,
// each posted on its own due date, up to and including until. It stops at
// the first error; occurrences posted before the error stand, and a retry
// resumes where it stopped because each occurrence carries its own
// idempotency key.
func (s *RecurringService) Backfill(ctx context.Context, id int64, until core.Date) (BackfillReport, error) {
	report := BackfillReport{TemplateID: id}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		tpl, err := s.storage.GetTemplate(ctx, id)
		if err != nil {
			return report, err
		}
		if !tpl.IsActive {
			if report.Executed == 0 {
				return report, core.ErrTemplateInactive
			}
			return report, nil
		}
		if tpl.NextExecution == nil || tpl.NextExecution.After(until) {
			return report, nil
		}

		due := *tpl.NextExecution
		if _, err := s.Execute(ctx, id, due); err != nil {
			return report, fmt.Errorf("occurrence %s: %w", due, err)
		}
		report.Executed++
		report.Dates = append(report.Dates, due)
	}
}

// BackfillAll catches up every active template. A failure on one template
// is recorded in its report and does not stop the sweep.
func (s *RecurringService) BackfillAll(ctx context.Context, until core.Date) ([]BackfillReport, error) {
	templates, err := s.storage.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	reports := make([]BackfillReport, 0, len(templates))
	for _, tpl := range templates {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		if !tpl.IsActive {
			continue
		}
		report, err := s.Backfill(ctx, tpl.ID, until)
		report.Err = err
		if err != nil {
			slog.ErrorContext(ctx, "Backfill stopped for template",
				"template_id", tpl.ID,
				"executed", report.Executed,
				"error", err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (s *RecurringService) checkReferences(ctx context.Context, tpl core.RecurringTemplate) error {
	account, err := s.storage.GetAccount(ctx, tpl.AccountID)
	if err != nil {
		return fmt.Errorf("account %d: %w", tpl.AccountID, err)
	}
	if account.IsArchived {
		return core.Validationf("account_id", "account is archived")
	}
	if tpl.CategoryID != nil {
		category, err := s.storage.GetCategory(ctx, *tpl.CategoryID)
		if err != nil {
			return fmt.Errorf("category %d: %w", *tpl.CategoryID, err)
		}
		if string(category.Type) != string(tpl.Type) {
			return core.Validationf("category_id", "category type %s does not match template type %s", category.Type, tpl.Type)
		}
	}
	return nil
}

func withExecution(tpl core.RecurringTemplate, executed core.Date) core.RecurringTemplate {
	tpl.LastExecutedAt = &executed
	return tpl
}

func formatNext(d *core.Date) string {
	if d == nil {
		return "exhausted"
	}
	return d.String()
}
