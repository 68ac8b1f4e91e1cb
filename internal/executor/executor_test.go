package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickscheduler/qsched/internal/domain"
	"github.com/quickscheduler/qsched/internal/runner"
	"github.com/quickscheduler/qsched/internal/store"
)

func newTestExecutor(t *testing.T, registry *runner.Registry) (*Executor, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	e := New(Config{
		Store:             s,
		Registry:          registry,
		LogDir:            t.TempDir(),
		OutputBufferLines: 100,
	})
	return e, s
}

func TestExecutor_Run_CommandSucceeds(t *testing.T) {
	e, s := newTestExecutor(t, runner.NewRegistry())
	task := &domain.Task{HashID: "t1", Name: "demo", Command: "echo ok", Enabled: true}
	require.NoError(t, s.UpsertTask(context.Background(), task))

	job := domain.NewJob(task.HashID, time.Now())
	require.NoError(t, s.InsertJob(context.Background(), job))

	require.NoError(t, e.Run(context.Background(), task, job))
	assert.Equal(t, domain.JobCompleted, job.Status)
}

func TestExecutor_Run_CommandFailsNoRetries(t *testing.T) {
	e, s := newTestExecutor(t, runner.NewRegistry())
	task := &domain.Task{HashID: "t1", Name: "demo", Command: "exit 1", MaxRetries: 0, Enabled: true}
	require.NoError(t, s.UpsertTask(context.Background(), task))

	job := domain.NewJob(task.HashID, time.Now())
	require.NoError(t, s.InsertJob(context.Background(), job))

	require.NoError(t, e.Run(context.Background(), task, job))
	assert.Equal(t, domain.JobFailed, job.Status)
}

func TestExecutor_Run_RetriesThenFails(t *testing.T) {
	e, s := newTestExecutor(t, runner.NewRegistry())
	task := &domain.Task{
		HashID:     "t1",
		Name:       "demo",
		Command:    "exit 1",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Enabled:    true,
	}
	require.NoError(t, s.UpsertTask(context.Background(), task))

	job := domain.NewJob(task.HashID, time.Now())
	require.NoError(t, s.InsertJob(context.Background(), job))

	require.NoError(t, e.Run(context.Background(), task, job))
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, 2, job.RetryCount)

	jobs, err := s.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 3, "original attempt plus two retries should each leave their own Job row")
	retryCounts := map[int]int{}
	for _, j := range jobs {
		retryCounts[j.RetryCount]++
		assert.Equal(t, domain.JobFailed, j.Status)
		assert.Equal(t, task.HashID, j.TaskHashID)
		assert.Equal(t, job.ScheduledFor, j.ScheduledFor)
	}
	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, retryCounts)
}

func TestExecutor_Run_CallableSuccess(t *testing.T) {
	reg := runner.NewRegistry()
	reg.Register("greet", func(ctx context.Context, w runner.Writer) error {
		w.Write([]byte("hi"))
		return nil
	})
	e, s := newTestExecutor(t, reg)
	task := &domain.Task{HashID: "t1", Name: "demo", CallableFunc: "greet", Enabled: true}
	require.NoError(t, s.UpsertTask(context.Background(), task))

	job := domain.NewJob(task.HashID, time.Now())
	require.NoError(t, s.InsertJob(context.Background(), job))

	require.NoError(t, e.Run(context.Background(), task, job))
	assert.Equal(t, domain.JobCompleted, job.Status)
}

func TestExecutor_Run_UnregisteredCallableFails(t *testing.T) {
	e, s := newTestExecutor(t, runner.NewRegistry())
	task := &domain.Task{HashID: "t1", Name: "demo", CallableFunc: "missing", Enabled: true}
	require.NoError(t, s.UpsertTask(context.Background(), task))

	job := domain.NewJob(task.HashID, time.Now())
	require.NoError(t, s.InsertJob(context.Background(), job))

	require.NoError(t, e.Run(context.Background(), task, job))
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "missing")
}

type fakeNotifier struct {
	calls int
}

func (f *fakeNotifier) NotifyFailure(ctx context.Context, task *domain.Task, job *domain.Job) error {
	f.calls++
	return nil
}

func TestExecutor_Run_NotifiesOnFailure(t *testing.T) {
	s := store.NewMemoryStore()
	notifier := &fakeNotifier{}
	e := New(Config{
		Store:    s,
		Registry: runner.NewRegistry(),
		Notifier: notifier,
		LogDir:   t.TempDir(),
	})
	task := &domain.Task{HashID: "t1", Name: "demo", Command: "exit 1", Enabled: true}
	require.NoError(t, s.UpsertTask(context.Background(), task))
	job := domain.NewJob(task.HashID, time.Now())
	require.NoError(t, s.InsertJob(context.Background(), job))

	require.NoError(t, e.Run(context.Background(), task, job))
	assert.Equal(t, 1, notifier.calls)
}

func TestExecutor_Run_DoesNotNotifyOnSuccess(t *testing.T) {
	s := store.NewMemoryStore()
	notifier := &fakeNotifier{}
	e := New(Config{
		Store:    s,
		Registry: runner.NewRegistry(),
		Notifier: notifier,
		LogDir:   t.TempDir(),
	})
	task := &domain.Task{HashID: "t1", Name: "demo", Command: "echo ok", Enabled: true}
	require.NoError(t, s.UpsertTask(context.Background(), task))
	job := domain.NewJob(task.HashID, time.Now())
	require.NoError(t, s.InsertJob(context.Background(), job))

	require.NoError(t, e.Run(context.Background(), task, job))
	assert.Equal(t, 0, notifier.calls)
}

func TestWebhookNotifier_NoURLIsNoop(t *testing.T) {
	n := NewWebhookNotifier("", time.Second, 0)
	err := n.NotifyFailure(context.Background(), &domain.Task{}, &domain.Job{})
	require.NoError(t, err)
}

func TestNoopNotifier(t *testing.T) {
	var n NoopNotifier
	require.NoError(t, n.NotifyFailure(context.Background(), nil, nil))
}

func TestExitMessage(t *testing.T) {
	assert.Contains(t, exitMessage(nil), "without an exit code")
	code := 7
	assert.Contains(t, exitMessage(&code), "7")
}
