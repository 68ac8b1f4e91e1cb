// Package mocks provides gomock-generated test doubles for the
// scheduler's repository and notification ports, the same way
// internal/mocks does for the job system this was adapted from.
//
// To regenerate after an interface changes:
//
//	go generate ./internal/mocks
package mocks

// Generate mock for the Store interface from internal/store. Covers
// UpsertTask, GetTask, ListTasks, CountTasks, DeleteTask, InsertJob,
// UpdateJob, GetJob, ListJobs, CountJobs, LatestJobForTask, RecoverStaleJobs.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=store_mock.go github.com/quickscheduler/qsched/internal/store Store

// Generate mock for the Notifier interface from internal/executor. Covers
// NotifyFailure.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=notifier_mock.go github.com/quickscheduler/qsched/internal/executor Notifier
