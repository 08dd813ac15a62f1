// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for recurring schedule math.
// Each frequency (daily, weekly, monthly) has its own rule that encapsulates
// the next-execution computation for that cadence.
package services

import (
	"fmt"

	"tally/internal/core"
)

// ScheduleRule is the strategy interface for computing when a recurring
// template fires next. Implementations are pure date math; the end-date cap
// is applied once, outside the rules, in ComputeNextExecution.
type ScheduleRule interface {
	// Next returns the first execution date for the template given the
	// evaluation date. The result is always >= max(asOf, start_date).
	Next(tpl core.RecurringTemplate, asOf core.Date) core.Date
}

// DailyRule fires every day.
type DailyRule struct{}

func (DailyRule) Next(tpl core.RecurringTemplate, asOf core.Date) core.Date {
	next := core.MaxDate(asOf, tpl.StartDate)
	if tpl.LastExecutedAt != nil {
		next = core.MaxDate(next, tpl.LastExecutedAt.AddDays(1))
	}
	return next
}

// WeeklyRule fires on a fixed weekday (0 = Monday).
type WeeklyRule struct{}

func (WeeklyRule) Next(tpl core.RecurringTemplate, asOf core.Date) core.Date {
	lower := core.MaxDate(asOf, tpl.StartDate)
	dow := 0
	if tpl.DayOfWeek != nil {
		dow = *tpl.DayOfWeek
	}
	candidate := lower.AddDays((dow - lower.WeekdayMon() + 7) % 7)
	// Same cycle already executed: move to the next one.
	if tpl.LastExecutedAt != nil && candidate.Equal(*tpl.LastExecutedAt) {
		candidate = candidate.AddDays(7)
	}
	return candidate
}

// MonthlyRule fires on a fixed day of the month, clamped to the last day of
// months too short to contain it (31 -> Feb 29 in a leap year).
type MonthlyRule struct{}

func (MonthlyRule) Next(tpl core.RecurringTemplate, asOf core.Date) core.Date {
	lower := core.MaxDate(asOf, tpl.StartDate)
	dom := 1
	if tpl.DayOfMonth != nil {
		dom = *tpl.DayOfMonth
	}
	candidate := clampToMonth(lower.Year(), lower.Month(), dom)
	if candidate.Before(lower) {
		candidate = nextMonthClamped(candidate, dom)
	}
	if tpl.LastExecutedAt != nil && candidate.Equal(*tpl.LastExecutedAt) {
		candidate = nextMonthClamped(candidate, dom)
	}
	return candidate
}

// clampToMonth builds the target date within one month, pulling the day back
// to the month's last day when the month is too short.
func clampToMonth(year, month, day int) core.Date {
	max := core.NewDate(year, month, 1).DaysInMonth()
	if day > max {
		day = max
	}
	return core.NewDate(year, month, day)
}

func nextMonthClamped(d core.Date, day int) core.Date {
	year, month := d.Year(), d.Month()+1
	if month > 12 {
		year, month = year+1, 1
	}
	return clampToMonth(year, month, day)
}

// scheduleRules maps frequencies to their rules. The registry enables O(1)
// lookup and extension with new cadences without touching the engine.
var scheduleRules = map[core.Frequency]ScheduleRule{
	core.Daily:   DailyRule{},
	core.Weekly:  WeeklyRule{},
	core.Monthly: MonthlyRule{},
}

// GetScheduleRule returns the rule for a frequency.
// Returns an error if the frequency is not supported.
func GetScheduleRule(frequency core.Frequency) (ScheduleRule, error) {
	rule, ok := scheduleRules[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}
	return rule, nil
}

// RegisterScheduleRule registers a custom rule for a new frequency.
func RegisterScheduleRule(frequency core.Frequency, rule ScheduleRule) {
	scheduleRules[frequency] = rule
}

// ComputeNextExecution computes when the template fires next, or nil when the
// schedule is exhausted. A nil result means the end date has passed: the
// template stops surfacing as pending but is never deleted.
func ComputeNextExecution(tpl core.RecurringTemplate, asOf core.Date) (*core.Date, error) {
	rule, err := GetScheduleRule(tpl.Frequency)
	if err != nil {
		return nil, err
	}
	next := rule.Next(tpl, asOf)
	if tpl.EndDate != nil && next.After(*tpl.EndDate) {
		return nil, nil
	}
	return &next, nil
}
