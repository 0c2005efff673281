// Package scheduler validates operator-supplied cron expressions and
// resolves them to next-due times for the job store's maintenance sweeps.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronValidator wraps a robfig/cron parser configured for the standard
// five-field expression format used by maintenance schedules
// (CLEANUP_CRON) and the admin cron-validation endpoint.
type CronValidator struct {
	parser cron.Parser
}

// NewCronValidator creates a validator for standard five-field cron
// expressions (minute hour dom month dow).
func NewCronValidator() *CronValidator {
	return &CronValidator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse validates expr and returns its resolved schedule.
func (v *CronValidator) Parse(expr string) (cron.Schedule, error) {
	schedule, err := v.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// Validate reports whether expr is a syntactically valid cron expression.
func (v *CronValidator) Validate(expr string) error {
	_, err := v.Parse(expr)
	return err
}

// NextRun returns the next time expr fires strictly after now.
func (v *CronValidator) NextRun(expr string, now time.Time) (time.Time, error) {
	schedule, err := v.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now), nil
}
