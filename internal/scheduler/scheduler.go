// Package scheduler is the main loop that decides when each Task's
// trigger is due, hands due firings to the Job Executor, and keeps the
// live Task set in sync with the Catalog Reconciler. Mirrors
// original_source's QuickScheduler.run() wait_until loop: compute the
// soonest next firing across every task, sleep until then or until a
// control event arrives, then re-evaluate.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quickscheduler/qsched/internal/catalog"
	"github.com/quickscheduler/qsched/internal/domain"
	"github.com/quickscheduler/qsched/internal/executor"
	"github.com/quickscheduler/qsched/internal/lock"
	"github.com/quickscheduler/qsched/internal/observability/metrics"
	"github.com/quickscheduler/qsched/internal/observability/statsd"
	"github.com/quickscheduler/qsched/internal/store"
	"github.com/quickscheduler/qsched/internal/trigger"
)

// dispatchLockTTL bounds how long a won dispatch lock blocks other
// replicas from retrying the same task, comfortably longer than the
// in-process active-task window it backstops.
const dispatchLockTTL = 5 * time.Minute

// RecoveryMessage is recorded on every Job force-failed at startup
// because it was left PENDING/RUNNING by an unclean shutdown.
const RecoveryMessage = "interrupted by restart"

type controlEventType int

const (
	eventAdd controlEventType = iota
	eventRemove
	eventManualTrigger
)

type controlEvent struct {
	kind   controlEventType
	hashID string
}

// Config configures a Scheduler.
type Config struct {
	Store          store.Store
	Catalog        *catalog.Catalog
	Executor       *executor.Executor
	RescanInterval time.Duration
	Metrics        statsd.Sink
	Logger         *slog.Logger

	// Locker guards dispatch across scheduler replicas sharing one
	// Store. Defaults to lock.NoopLocker{} (single-replica deployments
	// need no cross-process coordination).
	Locker lock.Locker
}

// Scheduler owns the live Task/trigger set and the dispatch loop.
type Scheduler struct {
	store          store.Store
	catalog        *catalog.Catalog
	executor       *executor.Executor
	rescanInterval time.Duration
	metrics        statsd.Sink
	logger         *slog.Logger
	locker         lock.Locker

	controlCh chan controlEvent

	mu         sync.Mutex
	tasks      map[string]*domain.Task
	evaluators map[string]*trigger.Evaluator
	active     map[string]bool
	lastRun    map[string]time.Time
	nextFire   map[string]time.Time
}

// New builds a Scheduler. Call Run to start the dispatch loop.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.RescanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lock.NoopLocker{}
	}
	return &Scheduler{
		store:          cfg.Store,
		catalog:        cfg.Catalog,
		executor:       cfg.Executor,
		rescanInterval: interval,
		metrics:        cfg.Metrics,
		logger:         logger,
		locker:         locker,
		controlCh:      make(chan controlEvent, 64),
		tasks:          make(map[string]*domain.Task),
		evaluators:     make(map[string]*trigger.Evaluator),
		active:         make(map[string]bool),
		lastRun:        make(map[string]time.Time),
		nextFire:       make(map[string]time.Time),
	}
}

// TriggerNow requests an out-of-schedule firing of the named task,
// backing the control API's manual trigger endpoint. Non-blocking;
// silently dropped if the control channel is saturated (64 deep),
// matching the original's best-effort manual trigger queue.
func (s *Scheduler) TriggerNow(hashID string) {
	select {
	case s.controlCh <- controlEvent{kind: eventManualTrigger, hashID: hashID}:
	default:
		s.logger.Warn("scheduler: control channel full, dropping manual trigger", "hash_id", hashID)
	}
}

// Run recovers stale jobs, performs an initial catalog reconciliation,
// and then drives the wait_until loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	n, err := s.store.RecoverStaleJobs(ctx, RecoveryMessage)
	if err != nil {
		return fmt.Errorf("recover stale jobs: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "recovered stale jobs from previous run", "count", n)
	}

	if err := s.applyCatalog(ctx); err != nil {
		return fmt.Errorf("initial catalog reconciliation: %w", err)
	}
	if err := s.primeLastRun(ctx); err != nil {
		return fmt.Errorf("prime last-run timestamps: %w", err)
	}

	rescan := time.NewTicker(s.rescanInterval)
	defer rescan.Stop()

	for {
		waitUntil := s.nextWake()
		timer := time.NewTimer(time.Until(waitUntil))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.dispatchDue(ctx)
		case ev := <-s.controlCh:
			timer.Stop()
			s.handleEvent(ctx, ev)
		case <-rescan.C:
			timer.Stop()
			if err := s.applyCatalog(ctx); err != nil {
				s.logger.ErrorContext(ctx, "catalog reconciliation failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) primeLastRun(ctx context.Context) error {
	s.mu.Lock()
	hashIDs := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		hashIDs = append(hashIDs, id)
	}
	s.mu.Unlock()

	for _, id := range hashIDs {
		job, err := s.store.LatestJobForTask(ctx, id)
		if err != nil {
			return err
		}
		if job != nil {
			s.mu.Lock()
			s.lastRun[id] = job.ScheduledFor
			s.mu.Unlock()
		}
	}

	now := time.Now().UTC()
	s.mu.Lock()
	for id := range s.tasks {
		s.scheduleNextLocked(id, now)
	}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) applyCatalog(ctx context.Context) error {
	diff, err := s.catalog.Reconcile(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range diff.Added {
		ev, err := trigger.New(task.Schedule)
		if err != nil {
			s.logger.ErrorContext(ctx, "invalid trigger, skipping task", "task", task.Name, "error", err)
			continue
		}
		s.tasks[task.HashID] = task
		s.evaluators[task.HashID] = ev
		s.scheduleNextLocked(task.HashID, now)
	}
	for _, id := range diff.Removed {
		delete(s.tasks, id)
		delete(s.evaluators, id)
		delete(s.lastRun, id)
		delete(s.active, id)
		delete(s.nextFire, id)
	}
	return nil
}

// nextWake returns the soonest time any enabled, inactive task's trigger
// is next due, capped at now plus the rescan interval, which is also what
// it returns when nothing is scheduled.
func (s *Scheduler) nextWake() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	soonest := now.Add(s.rescanInterval)
	for id, task := range s.tasks {
		if !task.Enabled || s.active[id] {
			continue
		}
		next, ok := s.nextFire[id]
		if !ok || next.IsZero() {
			continue
		}
		if next.Before(soonest) {
			soonest = next
		}
	}
	return soonest
}

// scheduleNextLocked computes task hashID's next_fire and stores it,
// using the evaluator's pure NextRun against a reference instant that only
// advances when the task actually fires: just past lastRun if set (NextRun
// fires on an exact tie, so lastRun itself would be returned again), after
// otherwise.
// Callers must hold s.mu. An IMMEDIATE trigger that has already consumed
// its single firing is left with a zero next_fire, so it never fires
// again.
func (s *Scheduler) scheduleNextLocked(hashID string, after time.Time) {
	ev, ok := s.evaluators[hashID]
	if !ok {
		return
	}
	last := s.lastRun[hashID]
	if ev.ShouldRunOnce(last) {
		s.nextFire[hashID] = after
		return
	}
	if task := s.tasks[hashID]; task != nil && task.Schedule.Type == domain.TriggerImmediate {
		s.nextFire[hashID] = time.Time{}
		return
	}
	base := last
	if base.IsZero() {
		base = after
	} else {
		base = base.Add(time.Nanosecond)
	}
	s.nextFire[hashID] = ev.NextRun(base)
}

// dispatchDue fires every enabled, inactive task whose next_fire is due as
// of now, then advances that task's next_fire from the fired instant so
// later ticks judge freshness against the schedule, not against however
// long the firing took to run.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := time.Now().UTC()

	type due struct {
		task         *domain.Task
		scheduledFor time.Time
	}

	s.mu.Lock()
	var firing []due
	for id, task := range s.tasks {
		if !task.Enabled || s.active[id] {
			continue
		}
		next, ok := s.nextFire[id]
		if !ok || next.IsZero() || next.After(now) {
			continue
		}
		firing = append(firing, due{task: task, scheduledFor: next})
	}
	sort.Slice(firing, func(i, j int) bool { return firing[i].task.HashID < firing[j].task.HashID })
	for _, d := range firing {
		s.active[d.task.HashID] = true
		s.lastRun[d.task.HashID] = d.scheduledFor
		s.scheduleNextLocked(d.task.HashID, d.scheduledFor)
	}
	s.mu.Unlock()

	for _, d := range firing {
		s.dispatch(ctx, d.task, d.scheduledFor)
	}
}

func (s *Scheduler) handleEvent(ctx context.Context, ev controlEvent) {
	switch ev.kind {
	case eventManualTrigger:
		now := time.Now().UTC()
		s.mu.Lock()
		task, ok := s.tasks[ev.hashID]
		alreadyActive := s.active[ev.hashID]
		if ok && !alreadyActive {
			s.active[ev.hashID] = true
			s.lastRun[ev.hashID] = now
			s.scheduleNextLocked(ev.hashID, now)
		}
		s.mu.Unlock()
		if !ok {
			s.logger.WarnContext(ctx, "manual trigger for unknown task", "hash_id", ev.hashID)
			return
		}
		if alreadyActive {
			s.logger.InfoContext(ctx, "manual trigger ignored, task already running", "hash_id", ev.hashID)
			return
		}
		s.dispatch(ctx, task, now)
	case eventAdd, eventRemove:
		// catalog changes are applied via applyCatalog on the rescan
		// ticker; these event kinds are reserved for a future push-based
		// catalog source and are not emitted today.
	}
}

// dispatch runs task's Job asynchronously, clearing the active flag once
// the run finishes. lastRun and next_fire are already advanced by the
// caller before dispatch is invoked.
func (s *Scheduler) dispatch(ctx context.Context, task *domain.Task, scheduledFor time.Time) {
	lockKey := fmt.Sprintf("qsched:dispatch:%s:%d", task.HashID, scheduledFor.Unix())
	won, err := s.locker.TryLock(ctx, lockKey, dispatchLockTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "dispatch lock check failed, firing locally", "task", task.Name, "error", err)
	} else if !won {
		s.logger.InfoContext(ctx, "dispatch lock held by another replica, skipping", "task", task.Name)
		s.mu.Lock()
		s.active[task.HashID] = false
		s.mu.Unlock()
		return
	}

	job := domain.NewJob(task.HashID, scheduledFor)
	if err := s.store.InsertJob(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "insert job failed", "task", task.Name, "error", err)
		s.mu.Lock()
		s.active[task.HashID] = false
		s.mu.Unlock()
		return
	}

	metrics.EmitTriggerFired(s.metrics, task.Name)

	go func() {
		defer func() {
			s.mu.Lock()
			s.active[task.HashID] = false
			s.mu.Unlock()
		}()
		if err := s.executor.Run(ctx, task, job); err != nil {
			s.logger.ErrorContext(ctx, "executor run failed", "task", task.Name, "job_id", job.ID, "error", err)
		}
	}()
}
