// Package executor drives a single Job through the PENDING -> RUNNING ->
// terminal state machine: it starts the Task's command or callable via
// the Subprocess Runner, waits up to the Task's configured timeout,
// retries on failure up to MaxRetries with RetryDelay between attempts,
// and fires a Notifier callback when a Job lands on a final non-COMPLETED
// state.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/quickscheduler/qsched/internal/domain"
	apperrors "github.com/quickscheduler/qsched/internal/errors"
	"github.com/quickscheduler/qsched/internal/observability/metrics"
	"github.com/quickscheduler/qsched/internal/observability/statsd"
	"github.com/quickscheduler/qsched/internal/runner"
	"github.com/quickscheduler/qsched/internal/store"
)

// Executor runs Jobs to completion. One Executor is shared across
// concurrent Task firings; it holds no per-job state itself.
type Executor struct {
	store    store.Store
	registry *runner.Registry
	notifier Notifier
	metrics  statsd.Sink
	logger   *slog.Logger

	logDir            string
	outputBufferLines int
}

// Config configures a new Executor.
type Config struct {
	Store             store.Store
	Registry          *runner.Registry
	Notifier          Notifier
	Metrics           statsd.Sink
	Logger            *slog.Logger
	LogDir            string
	OutputBufferLines int
}

// New builds an Executor from cfg, defaulting Notifier to a no-op and
// Logger to slog.Default() when not provided.
func New(cfg Config) *Executor {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:             cfg.Store,
		registry:          cfg.Registry,
		notifier:          notifier,
		metrics:           cfg.Metrics,
		logger:            logger,
		logDir:            cfg.LogDir,
		outputBufferLines: cfg.OutputBufferLines,
	}
}

// Run executes job for task, spawning a new Job row per retry attempt
// until one reaches a terminal state. job is mutated in place to reflect
// whichever attempt ends up terminal, so callers observe its final
// outcome. It returns an error on a programming/store error, or ctx.Err()
// if ctx is canceled while waiting out a retry delay; the terminal Job's
// state is always persisted before Run returns nil.
func (e *Executor) Run(ctx context.Context, task *domain.Task, job *domain.Job) error {
	for {
		if err := e.attempt(ctx, task, job); err != nil {
			return err
		}
		if job.Status.Terminal() {
			if job.Status != domain.JobCompleted {
				if notifyErr := e.notifier.NotifyFailure(ctx, task, job); notifyErr != nil {
					e.logger.ErrorContext(ctx, "notify failure", "error", notifyErr, "job_id", job.ID)
				}
			}
			return nil
		}
		// attempt() swapped *job for a fresh retry row; wait out the
		// retry delay before attempting it.
		select {
		case <-time.After(task.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attempt runs one RUNNING cycle: transition to RUNNING, execute, and
// either finish job terminally or hand off to retryOrFail, which finishes
// job and repoints it at a freshly inserted retry row.
func (e *Executor) attempt(ctx context.Context, task *domain.Task, job *domain.Job) error {
	now := time.Now().UTC()
	if err := job.Transition(domain.JobRunning, now); err != nil {
		return err
	}
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist running transition: %w", err)
	}

	logPath := filepath.Join(e.logDir, fmt.Sprintf("%s-%d.log", job.ID, job.RetryCount))
	job.LogPath = logPath
	r := runner.New(logPath, e.outputBufferLines)

	runCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	if err := e.start(runCtx, task, r); err != nil {
		return e.retryOrFail(ctx, task, job, domain.JobFailed, err.Error())
	}

	waitErr := r.Wait(runCtx)
	status := r.GetStatus()

	switch {
	case runCtx.Err() != nil && ctx.Err() == nil:
		_ = r.Stop()
		return e.retryOrFail(ctx, task, job, domain.JobTimeout, "execution exceeded configured timeout")
	case waitErr != nil:
		return e.finish(ctx, task, job, domain.JobFailed, waitErr.Error())
	case status.ExitCode == nil || *status.ExitCode != 0:
		return e.retryOrFail(ctx, task, job, domain.JobFailed, exitMessage(status.ExitCode))
	default:
		return e.finish(ctx, task, job, domain.JobCompleted, "")
	}
}

func (e *Executor) start(ctx context.Context, task *domain.Task, r *runner.Runner) error {
	if task.Command != "" {
		return r.StartCommand(ctx, task.Command, task.Environment, task.WorkingDirectory)
	}
	fn, ok := e.registry.Lookup(task.CallableFunc)
	if !ok {
		return apperrors.NotFoundf("callable_func %q is not registered", task.CallableFunc)
	}
	return r.StartCallable(ctx, task.CallableFunc, fn)
}

// retryOrFail lands job on status (FAILED or TIMEOUT) if MaxRetries is
// exhausted. Otherwise it finalizes job with status and inserts a new
// PENDING Job row for the retry (same TaskHashID and ScheduledFor,
// RetryCount+1), then repoints *job at that row so Run's loop attempts it
// next. Each attempt gets its own Job row rather than one row bounced
// between PENDING and RUNNING.
func (e *Executor) retryOrFail(ctx context.Context, task *domain.Task, job *domain.Job, status domain.JobStatus, message string) error {
	if !job.CanRetry(task.MaxRetries) {
		return e.finish(ctx, task, job, status, message)
	}
	if err := e.finish(ctx, task, job, status, message); err != nil {
		return err
	}

	next := domain.NewJob(job.TaskHashID, job.ScheduledFor)
	next.RetryCount = job.RetryCount + 1
	if err := e.store.InsertJob(ctx, next); err != nil {
		return fmt.Errorf("insert retry job: %w", err)
	}
	e.emit(task, "retry", status, next)
	*job = *next
	return nil
}

func (e *Executor) finish(ctx context.Context, task *domain.Task, job *domain.Job, status domain.JobStatus, message string) error {
	now := time.Now().UTC()
	if err := job.Transition(status, now); err != nil {
		return err
	}
	job.ErrorMessage = message
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist terminal transition: %w", err)
	}
	e.emit(task, "terminal", status, job)
	return nil
}

func (e *Executor) emit(task *domain.Task, transition string, status domain.JobStatus, job *domain.Job) {
	if e.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	switch status {
	case domain.JobFailed:
		result = metrics.ResultError
	case domain.JobTimeout:
		result = metrics.ResultTimeout
	}
	var duration time.Duration
	if job.StartedAt != nil && job.FinishedAt != nil {
		duration = job.FinishedAt.Sub(*job.StartedAt)
	}
	metrics.EmitJobLifecycle(e.metrics, metrics.JobMetric{
		TaskName:   task.Name,
		Transition: transition,
		Result:     result,
		Duration:   duration,
		RetryCount: job.RetryCount,
	})
}

func exitMessage(code *int) string {
	if code == nil {
		return "process terminated without an exit code"
	}
	return fmt.Sprintf("process exited with code %d", *code)
}
