package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/quickscheduler/qsched/internal/domain"
	"github.com/quickscheduler/qsched/internal/store"
)

func TestMockStore_UpsertAndGetTask(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := NewMockStore(ctrl)

	task := &domain.Task{Name: "demo", HashID: "abc123"}
	m.EXPECT().UpsertTask(gomock.Any(), task).Return(nil)
	m.EXPECT().GetTask(gomock.Any(), "abc123").Return(task, nil)

	require.NoError(t, m.UpsertTask(context.Background(), task))
	got, err := m.GetTask(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestMockStore_ListTasksPropagatesFilter(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := NewMockStore(ctrl)

	enabled := true
	filter := store.TaskFilter{Enabled: &enabled}
	m.EXPECT().ListTasks(gomock.Any(), filter).Return([]*domain.Task{{Name: "demo"}}, nil)

	tasks, err := m.ListTasks(context.Background(), filter)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestMockNotifier_NotifyFailureCalledOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := NewMockNotifier(ctrl)

	task := &domain.Task{Name: "demo"}
	job := &domain.Job{ID: "job-1", ScheduledFor: time.Now()}
	m.EXPECT().NotifyFailure(gomock.Any(), task, job).Return(nil).Times(1)

	require.NoError(t, m.NotifyFailure(context.Background(), task, job))
}
