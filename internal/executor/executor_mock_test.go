package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/quickscheduler/qsched/internal/domain"
	"github.com/quickscheduler/qsched/internal/executor"
	"github.com/quickscheduler/qsched/internal/mocks"
	"github.com/quickscheduler/qsched/internal/runner"
	"github.com/quickscheduler/qsched/internal/store"
)

func TestExecutor_Run_NotifiesOnFailure_GeneratedMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().NotifyFailure(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	s := store.NewMemoryStore()
	e := executor.New(executor.Config{
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
	require.Equal(t, domain.JobFailed, job.Status)
}
