package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickscheduler/qsched/internal/domain"
	"github.com/quickscheduler/qsched/internal/store"
)

func writeTaskFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCatalog_Reconcile_AddsFileTasks(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "tasks.yaml", "tasks:\n  - name: demo\n    command: echo hi\n    schedule:\n      type: IMMEDIATE\n")

	st := store.NewMemoryStore()
	c := New(dir, st)

	diff, err := c.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	assert.Empty(t, diff.Removed)
	assert.Equal(t, "demo", diff.Added[0].Name)

	tasks, err := st.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestCatalog_Reconcile_RemovesDeletedFile(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "tasks.yaml", "tasks:\n  - name: demo\n    command: echo hi\n    schedule:\n      type: IMMEDIATE\n")

	st := store.NewMemoryStore()
	c := New(dir, st)

	_, err := c.Reconcile(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "tasks.yaml")))

	diff, err := c.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, diff.Added)
	require.Len(t, diff.Removed, 1)

	tasks, err := st.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCatalog_Reconcile_ContentChangeRemovesThenAdds(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "tasks.yaml", "tasks:\n  - name: demo\n    command: echo one\n    schedule:\n      type: IMMEDIATE\n")

	st := store.NewMemoryStore()
	c := New(dir, st)
	_, err := c.Reconcile(context.Background())
	require.NoError(t, err)

	writeTaskFile(t, dir, "tasks.yaml", "tasks:\n  - name: demo\n    command: echo two\n    schedule:\n      type: IMMEDIATE\n")
	// force an observable mtime change
	future := filepath.Join(dir, "tasks.yaml")
	futureTime := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(future, futureTime, futureTime))

	diff, err := c.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Len(t, diff.Added, 1)
	assert.Len(t, diff.Removed, 1)
	assert.NotEqual(t, diff.Removed[0], diff.Added[0].HashID)
}

func TestCatalog_RegisterProgrammatic_WinsCollision(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "tasks.yaml", "tasks:\n  - name: demo\n    command: echo hi\n    schedule:\n      type: IMMEDIATE\n")
	st := store.NewMemoryStore()
	c := New(dir, st)

	task := &domain.Task{
		Name:    "demo",
		Command: "echo hi",
		Schedule: domain.TriggerConfig{
			Type: domain.TriggerImmediate,
		},
		Enabled: true,
	}
	require.NoError(t, c.RegisterProgrammatic(task))

	diff, err := c.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, diff.Added, 1)
	assert.Equal(t, domain.SourceProgrammatic, diff.Added[0].Source)
}

func TestCatalog_RegisterProgrammatic_InvalidTaskRejected(t *testing.T) {
	c := New(t.TempDir(), store.NewMemoryStore())
	err := c.RegisterProgrammatic(&domain.Task{Name: ""})
	require.Error(t, err)
}

func TestCatalog_Reconcile_ConcurrentCallsCollapse(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "tasks.yaml", "tasks:\n  - name: demo\n    command: echo hi\n    schedule:\n      type: IMMEDIATE\n")

	st := store.NewMemoryStore()
	c := New(dir, st)

	const n = 8
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Reconcile(context.Background())
			results <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-results)
	}

	tasks, err := st.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
