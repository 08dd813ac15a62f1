package core

import (
	"errors"
	"fmt"
)

// Error kinds shared by every engine. Handlers use errors.Is/errors.As on
// these to pick a response code; services wrap them with context but never
// swallow them.
var (
	// ErrNotFound signals a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState signals an operation not permitted in the entity's
	// current lifecycle state. The caller should re-read current state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrDependency signals a failed collaborator call (rate feed, ledger).
	// Retryable; persisted state is unchanged when it is returned.
	ErrDependency = errors.New("dependency failed")

	// ErrNotYetDue signals a recurring execution attempted before the
	// template's next execution date.
	ErrNotYetDue = errors.New("template not yet due")

	ErrTemplateInactive = errors.New("template is inactive")
	ErrTemplateExpired  = errors.New("template schedule is exhausted")
	ErrRateUnavailable  = fmt.Errorf("exchange rate unavailable: %w", ErrDependency)
	ErrLedgerPostFailed = fmt.Errorf("ledger post failed: %w", ErrDependency)
	ErrListCompleted    = fmt.Errorf("list already completed: %w", ErrInvalidState)
	ErrEmptyList        = errors.New("list has no items")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrDuplicate        = errors.New("already exists")
)

// ValidationError reports a single rejected input field. It is never
// retried; the request itself must change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
