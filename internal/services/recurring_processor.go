package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tally/internal/core"
)

// RecurringProcessor drives the automatic execution of due templates. It is
// what the recurring worker runs on its interval; the same pass also serves
// as the catch-up after downtime, because a missed template surfaces as
// pending and gets its makeup transaction dated the evaluation day.
type RecurringProcessor struct {
	service *RecurringService
}

func NewRecurringProcessor(service *RecurringService) *RecurringProcessor {
	return &RecurringProcessor{
		service: service,
	}
}

// ProcessDue executes every template due on or before asOf. Failures on one
// template never block the others; the count of successful executions is
// returned.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, asOf core.Date) (int, error) {
	if p.service == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	pending, err := p.service.ListPending(ctx, asOf)
	if err != nil {
		return 0, fmt.Errorf("list pending templates: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring templates",
		"pending", len(pending),
		"as_of", asOf.String())

	processed := 0
	for _, tpl := range pending {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		_, err := p.service.Execute(ctx, tpl.ID, asOf)
		if err != nil {
			// Another worker may have raced us past this template.
			if errors.Is(err, core.ErrNotYetDue) || errors.Is(err, core.ErrTemplateInactive) {
				continue
			}
			slog.ErrorContext(ctx, "Failed to execute recurring template",
				"template_id", tpl.ID,
				"description", tpl.Description,
				"error", err)
			continue
		}

		processed++
		slog.InfoContext(ctx, "Created transaction from recurring template",
			"template_id", tpl.ID,
			"description", tpl.Description,
			"amount", core.FormatAmount(tpl.Amount),
			"frequency", tpl.Frequency)
	}

	slog.InfoContext(ctx, "Recurring template processing complete",
		"processed", processed,
		"pending", len(pending))

	return processed, nil
}
