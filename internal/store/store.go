// Package store defines the persistence boundary for Tasks and Jobs and
// provides two implementations: an in-memory Store for tests and single
// process development, and a Postgres-backed Store for production,
// following the teacher's repository-interface-plus-adapter split.
package store

import (
	"context"

	"github.com/quickscheduler/qsched/internal/domain"
)

// TaskFilter narrows ListTasks results. Zero value matches everything.
type TaskFilter struct {
	Source  domain.TaskSource
	Enabled *bool
	Limit   int
	Offset  int
}

// JobFilter narrows ListJobs results. Zero value matches everything.
type JobFilter struct {
	TaskHashID string
	Status     domain.JobStatus
	Limit      int
	Offset     int
}

// Store is the persistence port every component (Catalog Reconciler,
// Scheduler, Job Executor, HTTP control API) depends on rather than a
// concrete database client.
type Store interface {
	UpsertTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, hashID string) (*domain.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)
	CountTasks(ctx context.Context, filter TaskFilter) (int, error)
	// DeleteTask removes a task and cascades to its jobs.
	DeleteTask(ctx context.Context, hashID string) error

	InsertJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error)
	CountJobs(ctx context.Context, filter JobFilter) (int, error)

	// LatestJobForTask returns the most recently scheduled Job for a
	// task, or nil if none exists. The Scheduler uses this at startup
	// to know a trigger's last-run reference point (needed for
	// IMMEDIATE's "already ran" check).
	LatestJobForTask(ctx context.Context, taskHashID string) (*domain.Job, error)

	// RecoverStaleJobs marks every PENDING/RUNNING Job as FAILED with
	// message, used once at startup to recover from an unclean restart.
	RecoverStaleJobs(ctx context.Context, message string) (int, error)
}
