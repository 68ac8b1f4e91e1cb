// Package trigger evaluates a domain.TriggerConfig against a point in
// time, deciding whether and when a Task should next fire. It is the pure
// core the Scheduler's wait_until loop is built on: no I/O, no clock of
// its own, every decision takes "now" as an argument so it can be driven
// by a real or a fake clock in tests.
package trigger

import (
	"time"

	"github.com/quickscheduler/qsched/internal/domain"
	apperrors "github.com/quickscheduler/qsched/internal/errors"
)

// Evaluator answers "when does this task next run" and "has it already
// run for this firing" for one domain.TriggerConfig. Constructed once per
// Task; construction is where the IANA timezone name is resolved, so a
// bad timezone fails fast instead of at the first scheduling decision.
type Evaluator struct {
	cfg domain.TriggerConfig
	loc *time.Location
}

// New builds an Evaluator for cfg, resolving its Timezone (defaulting to
// UTC) via the IANA database. Returns a validation *errors.AppError
// wrapping the lookup error if the zone name is not recognised.
func New(cfg domain.TriggerConfig) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "unknown timezone "+tz)
	}
	return &Evaluator{cfg: cfg, loc: loc}, nil
}

// NextRun returns the smallest time at or after after that the trigger
// should fire; an exact match to after fires on that instant rather than
// rolling forward to the next occurrence. For TriggerImmediate it returns
// after unchanged on the first call (callers are expected to only call
// NextRun once for an IMMEDIATE trigger — see ShouldRunOnce).
func (e *Evaluator) NextRun(after time.Time) time.Time {
	after = after.In(e.loc)
	switch e.cfg.Type {
	case domain.TriggerImmediate:
		return after
	case domain.TriggerDaily:
		return e.nextDaily(after)
	case domain.TriggerInterval:
		return e.nextInterval(after)
	default:
		return after
	}
}

// ShouldRunOnce reports whether an IMMEDIATE trigger still has its single
// firing to make: true only for an IMMEDIATE trigger whose lastRun is the
// zero time (the task has never run).
func (e *Evaluator) ShouldRunOnce(lastRun time.Time) bool {
	return e.cfg.Type == domain.TriggerImmediate && lastRun.IsZero()
}

func (e *Evaluator) nextDaily(after time.Time) time.Time {
	hour, minute := parseTimeOfDay(e.cfg.TimeOfDay)
	candidate := time.Date(after.Year(), after.Month(), after.Day(), hour, minute, 0, 0, e.loc)
	if candidate.Before(after) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for i := 0; i < 8; i++ {
		if e.dateAllowed(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func (e *Evaluator) nextInterval(after time.Time) time.Time {
	start := e.cfg.StartAt
	if start.IsZero() {
		start = after
	} else {
		start = start.In(e.loc)
	}
	interval := e.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	candidate := start
	if !candidate.Before(after) {
		return e.clampToWindow(candidate)
	}
	elapsed := after.Sub(start)
	steps := elapsed / interval
	candidate = start.Add(steps * interval)
	for candidate.Before(after) {
		candidate = candidate.Add(interval)
	}
	return e.clampToWindow(candidate)
}

// clampToWindow returns the zero time if candidate falls after the
// trigger's configured EndAt, signalling the interval has closed.
func (e *Evaluator) clampToWindow(candidate time.Time) time.Time {
	if !e.cfg.EndAt.IsZero() && candidate.After(e.cfg.EndAt.In(e.loc)) {
		return time.Time{}
	}
	return candidate
}

// dateAllowed reports whether t satisfies both the Weekdays and Dates
// filters. Both filters apply together (AND), matching original_source's
// "every rule must pass" semantics; an empty filter always passes.
func (e *Evaluator) dateAllowed(t time.Time) bool {
	if len(e.cfg.Weekdays) > 0 {
		iso := isoWeekday(t.Weekday())
		found := false
		for _, wd := range e.cfg.Weekdays {
			if wd == iso {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(e.cfg.Dates) > 0 {
		d := t.Format("2006-01-02")
		found := false
		for _, allowed := range e.cfg.Dates {
			if allowed == d {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// isoWeekday converts Go's 0=Sunday convention to ISO's 1=Monday..7=Sunday.
func isoWeekday(wd time.Weekday) int {
	if wd == time.Sunday {
		return 7
	}
	return int(wd)
}

func parseTimeOfDay(s string) (hour, minute int) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}
