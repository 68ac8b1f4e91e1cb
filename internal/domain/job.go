package domain

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/quickscheduler/qsched/internal/errors"
)

// JobStatus is the terminal-state machine a Job moves through: PENDING is
// the only entry state, RUNNING the only mid-flight state, and COMPLETED,
// FAILED, TIMEOUT are terminal.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobTimeout   JobStatus = "TIMEOUT"
)

// Valid reports whether s is a known JobStatus.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed, JobTimeout:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is one of the Job's terminal states. A job
// in a terminal state is never transitioned again by the executor; only a
// fresh Job (new run) can follow it.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobTimeout:
		return true
	default:
		return false
	}
}

// Job is one scheduled execution attempt of a Task. A retried firing gets
// its own Job row per attempt: the failed attempt is finalized and a new
// row is inserted sharing TaskHashID and ScheduledFor with RetryCount
// incremented, so a task that retries twice leaves three Job rows behind.
type Job struct {
	ID         string `json:"id"`
	TaskHashID string `json:"task_hash_id"`

	Status JobStatus `json:"status"`

	// ScheduledFor is the time the trigger decided this Job should run.
	ScheduledFor time.Time `json:"scheduled_for"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	RetryCount int `json:"retry_count"`

	ErrorMessage string `json:"error_message,omitempty"`

	// LogPath is where the Subprocess Runner wrote this Job's combined
	// stdout/stderr: the executor's log directory joined with the Job ID
	// and retry count.
	LogPath string `json:"log_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob creates a PENDING Job for the given task firing at scheduledFor.
func NewJob(taskHashID string, scheduledFor time.Time) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:           uuid.NewString(),
		TaskHashID:   taskHashID,
		Status:       JobPending,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// allowed next-states for each current state, enforcing the state machine
// invariant: PENDING -> RUNNING -> {COMPLETED, FAILED, TIMEOUT}, and a
// RUNNING job may return to PENDING to await a retry.
var jobTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending: {JobRunning: true},
	JobRunning: {
		JobPending:   true,
		JobCompleted: true,
		JobFailed:    true,
		JobTimeout:   true,
	},
}

// Transition moves the Job to next, validating the move against the
// state machine and stamping the relevant timestamp.
func (j *Job) Transition(next JobStatus, at time.Time) error {
	if !next.Valid() {
		return apperrors.ValidationField("status", "unknown job status: "+string(next))
	}
	allowed := jobTransitions[j.Status]
	if !allowed[next] {
		return apperrors.Conflictf("invalid job transition %s -> %s", j.Status, next)
	}

	switch next {
	case JobRunning:
		if j.StartedAt == nil {
			started := at
			j.StartedAt = &started
		}
	case JobCompleted, JobFailed, JobTimeout:
		finished := at
		j.FinishedAt = &finished
	}

	j.Status = next
	j.UpdatedAt = at
	return nil
}

// CanRetry reports whether the Job has retry attempts remaining against
// the Task's configured MaxRetries.
func (j *Job) CanRetry(maxRetries int) bool {
	return j.RetryCount < maxRetries
}
