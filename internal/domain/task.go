// Package domain holds the core Task and Job types shared by every
// component of the scheduler: trigger evaluation, the subprocess runner,
// the job executor, the catalog reconciler, and the Store.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	apperrors "github.com/quickscheduler/qsched/internal/errors"
)

// TriggerType identifies which of the three trigger variants a Task uses.
// Modelled as a tagged sum rather than trigger subtyping/inheritance: a
// single TriggerConfig carries every variant's fields and Type selects
// which subset is meaningful, matching how original_source keeps a single
// TaskModel with optional schedule fields instead of a trigger class
// hierarchy.
type TriggerType string

const (
	TriggerImmediate TriggerType = "IMMEDIATE"
	TriggerDaily     TriggerType = "DAILY"
	TriggerInterval  TriggerType = "INTERVAL"
)

// Valid reports whether t is one of the known trigger types.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerImmediate, TriggerDaily, TriggerInterval:
		return true
	default:
		return false
	}
}

// TriggerConfig describes when a Task should fire. Fields not relevant to
// Type are zero and ignored; see internal/trigger for evaluation semantics.
type TriggerConfig struct {
	Type TriggerType `json:"type" yaml:"type"`

	// Timezone is the IANA zone name all time-of-day and date comparisons
	// are made in. Empty means UTC.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// TimeOfDay is "HH:MM" (24h), used by TriggerDaily.
	TimeOfDay string `json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`

	// Weekdays restricts DAILY/INTERVAL firing to these ISO weekdays
	// (1=Monday..7=Sunday). Empty means every day.
	Weekdays []int `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`

	// Dates restricts firing to these calendar dates ("YYYY-MM-DD") in
	// addition to (not instead of) Weekdays filtering. Empty means no
	// date restriction.
	Dates []string `json:"dates,omitempty" yaml:"dates,omitempty"`

	// StartAt/EndAt bound the window INTERVAL fires within. A zero EndAt
	// means no upper bound.
	StartAt time.Time `json:"start_at,omitempty" yaml:"start_at,omitempty"`
	EndAt   time.Time `json:"end_at,omitempty"   yaml:"end_at,omitempty"`

	// Interval is the period between INTERVAL firings.
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// Validate checks the fields relevant to Type are well formed. It does not
// validate Timezone against the IANA database; callers construct the
// location separately (see internal/trigger.NewEvaluator) so the error
// returned there can be wrapped the same way.
func (c TriggerConfig) Validate() error {
	if !c.Type.Valid() {
		return apperrors.ValidationField("schedule.type", "unknown trigger type: "+string(c.Type))
	}
	switch c.Type {
	case TriggerDaily:
		if c.TimeOfDay == "" {
			return apperrors.ValidationField("schedule.time_of_day", "time_of_day is required for DAILY triggers")
		}
	case TriggerInterval:
		if c.Interval <= 0 {
			return apperrors.ValidationField("schedule.interval", "interval must be positive for INTERVAL triggers")
		}
		if !c.EndAt.IsZero() && !c.StartAt.IsZero() && c.EndAt.Before(c.StartAt) {
			return apperrors.ValidationField("schedule.end_at", "end_at must not precede start_at")
		}
	case TriggerImmediate:
		// no required fields
	}
	for _, wd := range c.Weekdays {
		if wd < 1 || wd > 7 {
			return apperrors.ValidationField("schedule.weekdays", "weekdays must be in 1..7 (Monday..Sunday)")
		}
	}
	return nil
}

// Task is a schedulable unit of work: exactly one of Command or
// CallableFunc names the work to perform, and Schedule names when.
type Task struct {
	// HashID is the content-addressed identity of this Task. Two Task
	// values with identical identity fields (see computeHashID) always
	// produce the same HashID, which is what lets the Catalog Reconciler
	// detect "unchanged" vs. "content changed, remove then re-add".
	HashID string `json:"hash_id"`

	Name string `json:"name"`

	// Exactly one of Command, CallableFunc must be set.
	Command      string `json:"command,omitempty"`
	CallableFunc string `json:"callable_func,omitempty"`

	Schedule TriggerConfig `json:"schedule"`

	WorkingDirectory string            `json:"working_directory,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`

	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`
	Timeout    time.Duration `json:"timeout"`

	Enabled bool `json:"enabled"`

	// Source records where this Task's definition came from, used by the
	// Catalog Reconciler to decide collision precedence (programmatic
	// tasks always win over YAML-file tasks with the same HashID).
	Source TaskSource `json:"source"`

	// SourcePath is the YAML file this task was loaded from, empty for
	// programmatic tasks. Used by the reconciler to detect file changes.
	SourcePath string `json:"source_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskSource identifies how a Task entered the catalog.
type TaskSource string

const (
	SourceProgrammatic TaskSource = "programmatic"
	SourceYAML         TaskSource = "yaml"
)

// Validate enforces the Task invariants from the data model: name
// required, exactly one of Command/CallableFunc, and a well-formed
// schedule.
func (t *Task) Validate() error {
	if t.Name == "" {
		return apperrors.ValidationField("name", "name is required")
	}
	hasCommand := t.Command != ""
	hasCallable := t.CallableFunc != ""
	if hasCommand == hasCallable {
		return apperrors.Validation("exactly one of command or callable_func must be set")
	}
	if t.MaxRetries < 0 {
		return apperrors.ValidationField("max_retries", "max_retries must be >= 0")
	}
	if t.RetryDelay < 0 {
		return apperrors.ValidationField("retry_delay", "retry_delay must be >= 0")
	}
	if t.Timeout < 0 {
		return apperrors.ValidationField("timeout", "timeout must be >= 0")
	}
	return t.Schedule.Validate()
}

// ComputeHashID derives and sets t.HashID from the Task's identity fields.
// Environment keys are sorted first so key order never perturbs the hash.
func (t *Task) ComputeHashID() {
	t.HashID = computeHashID(t)
}

type hashable struct {
	Name             string            `json:"name"`
	Command          string            `json:"command"`
	CallableFunc     string            `json:"callable_func"`
	ScheduleType     TriggerType       `json:"schedule_type"`
	ScheduleConfig   TriggerConfig     `json:"schedule_config"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment"`
}

func computeHashID(t *Task) string {
	env := make(map[string]string, len(t.Environment))
	keys := make([]string, 0, len(t.Environment))
	for k, v := range t.Environment {
		env[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sortedEnv := make(map[string]string, len(env))
	for _, k := range keys {
		sortedEnv[k] = env[k]
	}

	h := hashable{
		Name:             t.Name,
		Command:          t.Command,
		CallableFunc:     t.CallableFunc,
		ScheduleType:     t.Schedule.Type,
		ScheduleConfig:   t.Schedule,
		WorkingDirectory: t.WorkingDirectory,
		Environment:      sortedEnv,
	}
	// json.Marshal of a struct with sorted map keys (encoding/json already
	// sorts map keys on encode) gives a deterministic byte sequence to hash.
	b, err := json.Marshal(h)
	if err != nil {
		// Marshal of a struct of comparable built-in types never fails.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
