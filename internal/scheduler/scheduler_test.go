package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickscheduler/qsched/internal/catalog"
	"github.com/quickscheduler/qsched/internal/domain"
	"github.com/quickscheduler/qsched/internal/executor"
	"github.com/quickscheduler/qsched/internal/runner"
	"github.com/quickscheduler/qsched/internal/store"
)

// alwaysLosingLocker simulates another replica already holding every
// dispatch lock, so TryLock always reports a loss.
type alwaysLosingLocker struct{}

func (alwaysLosingLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, store.Store, *catalog.Catalog) {
	t.Helper()
	st := store.NewMemoryStore()
	cat := catalog.New(t.TempDir(), st)
	exec := executor.New(executor.Config{
		Store:    st,
		Registry: runner.NewRegistry(),
		LogDir:   t.TempDir(),
	})
	sched := New(Config{
		Store:          st,
		Catalog:        cat,
		Executor:       exec,
		RescanInterval: 50 * time.Millisecond,
	})
	return sched, st, cat
}

func TestScheduler_Run_ImmediateTaskFiresOnce(t *testing.T) {
	sched, st, cat := newTestScheduler(t)
	task := &domain.Task{
		Name:    "demo",
		Command: "echo hi",
		Schedule: domain.TriggerConfig{
			Type: domain.TriggerImmediate,
		},
		Enabled: true,
	}
	require.NoError(t, cat.RegisterProgrammatic(task))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	assert.Eventually(t, func() bool {
		jobs, err := st.ListJobs(context.Background(), store.JobFilter{})
		return err == nil && len(jobs) == 1 && jobs[0].Status == domain.JobCompleted
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestScheduler_RecoversStaleJobsOnStartup(t *testing.T) {
	sched, st, cat := newTestScheduler(t)
	task := &domain.Task{
		HashID:  "preexisting",
		Name:    "demo",
		Command: "echo hi",
		Schedule: domain.TriggerConfig{
			Type: domain.TriggerInterval, Interval: time.Hour,
		},
		Enabled: true,
	}
	require.NoError(t, st.UpsertTask(context.Background(), task))

	stale := domain.NewJob(task.HashID, time.Now())
	require.NoError(t, st.InsertJob(context.Background(), stale))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	assert.Eventually(t, func() bool {
		job, err := st.GetJob(context.Background(), stale.ID)
		return err == nil && job.Status == domain.JobFailed && job.ErrorMessage == RecoveryMessage
	}, time.Second, 10*time.Millisecond)

	_ = cat
	cancel()
	<-done
}

func TestScheduler_TriggerNow_DispatchesManualRun(t *testing.T) {
	sched, st, cat := newTestScheduler(t)
	task := &domain.Task{
		Name:    "manual-demo",
		Command: "echo hi",
		Schedule: domain.TriggerConfig{
			Type: domain.TriggerInterval, Interval: time.Hour, StartAt: time.Now().Add(time.Hour),
		},
		Enabled: true,
	}
	require.NoError(t, cat.RegisterProgrammatic(task))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	assert.Eventually(t, func() bool {
		sched.mu.Lock()
		_, ok := sched.tasks[task.HashID]
		sched.mu.Unlock()
		return ok
	}, time.Second, 10*time.Millisecond)

	sched.TriggerNow(task.HashID)

	assert.Eventually(t, func() bool {
		jobs, err := st.ListJobs(context.Background(), store.JobFilter{})
		return err == nil && len(jobs) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestScheduler_DispatchDue_FiresIntervalTaskOnSchedule(t *testing.T) {
	sched, st, cat := newTestScheduler(t)
	task := &domain.Task{
		Name:    "interval-demo",
		Command: "echo hi",
		Schedule: domain.TriggerConfig{
			Type:     domain.TriggerInterval,
			StartAt:  time.Now().Add(-time.Hour),
			Interval: time.Hour,
		},
		Enabled: true,
	}
	require.NoError(t, cat.RegisterProgrammatic(task))

	ctx := context.Background()
	require.NoError(t, sched.applyCatalog(ctx))
	require.NoError(t, sched.primeLastRun(ctx))

	sched.mu.Lock()
	next, ok := sched.nextFire[task.HashID]
	sched.mu.Unlock()
	require.True(t, ok)
	require.True(t, next.Equal(task.Schedule.StartAt.Add(2*time.Hour)), "an interval task whose start_at has already passed is next due at the first tick after now")

	// Simulate the clock reaching that tick.
	sched.mu.Lock()
	sched.nextFire[task.HashID] = time.Now().UTC()
	sched.mu.Unlock()

	sched.dispatchDue(ctx)

	assert.Eventually(t, func() bool {
		jobs, err := st.ListJobs(context.Background(), store.JobFilter{})
		return err == nil && len(jobs) == 1 && jobs[0].Status == domain.JobCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_DispatchDue_FiresDailyTaskAtExactRunTime(t *testing.T) {
	sched, st, cat := newTestScheduler(t)
	task := &domain.Task{
		Name:    "daily-demo",
		Command: "echo hi",
		Schedule: domain.TriggerConfig{
			Type:      domain.TriggerDaily,
			TimeOfDay: "09:00",
		},
		Enabled: true,
	}
	require.NoError(t, cat.RegisterProgrammatic(task))

	ctx := context.Background()
	require.NoError(t, sched.applyCatalog(ctx))
	require.NoError(t, sched.primeLastRun(ctx))

	// Simulate the exact instant run_time arrives: next_fire was computed
	// on an earlier tick and the clock has now caught up to it exactly,
	// rather than recomputing NextRun against the current wall clock.
	tie := time.Now().UTC()
	sched.mu.Lock()
	sched.nextFire[task.HashID] = tie
	sched.mu.Unlock()

	sched.dispatchDue(ctx)

	assert.Eventually(t, func() bool {
		jobs, err := st.ListJobs(context.Background(), store.JobFilter{})
		if err != nil || len(jobs) != 1 {
			return false
		}
		return jobs[0].ScheduledFor.Equal(tie) && jobs[0].Status == domain.JobCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_Run_SkipsDispatchWhenLockLost(t *testing.T) {
	st := store.NewMemoryStore()
	cat := catalog.New(t.TempDir(), st)
	exec := executor.New(executor.Config{
		Store:    st,
		Registry: runner.NewRegistry(),
		LogDir:   t.TempDir(),
	})
	sched := New(Config{
		Store:          st,
		Catalog:        cat,
		Executor:       exec,
		RescanInterval: 50 * time.Millisecond,
		Locker:         alwaysLosingLocker{},
	})

	task := &domain.Task{
		Name:    "locked-elsewhere",
		Command: "echo hi",
		Schedule: domain.TriggerConfig{
			Type: domain.TriggerImmediate,
		},
		Enabled: true,
	}
	require.NoError(t, cat.RegisterProgrammatic(task))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	<-done

	jobs, err := st.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
