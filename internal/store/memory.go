package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quickscheduler/qsched/internal/domain"
	apperrors "github.com/quickscheduler/qsched/internal/errors"
)

// MemoryStore is an in-memory Store implementation used by tests and by
// single-process deployments that don't need durability across restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	jobs  map[string]*domain.Job
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*domain.Task),
		jobs:  make(map[string]*domain.Job),
	}
}

func (s *MemoryStore) UpsertTask(_ context.Context, task *domain.Task) error {
	if task.HashID == "" {
		return apperrors.Validation("task hash_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *task
	if existing, ok := s.tasks[task.HashID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else {
		clone.CreatedAt = time.Now().UTC()
	}
	clone.UpdatedAt = time.Now().UTC()
	s.tasks[task.HashID] = &clone
	*task = clone
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, hashID string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[hashID]
	if !ok {
		return nil, apperrors.NotFoundf("task %s not found", hashID)
	}
	clone := *t
	return &clone, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Task
	for _, t := range s.tasks {
		if !taskMatches(t, filter) {
			continue
		}
		clone := *t
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HashID < out[j].HashID })
	return paginateTasks(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) CountTasks(_ context.Context, filter TaskFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if taskMatches(t, filter) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, hashID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[hashID]; !ok {
		return apperrors.NotFoundf("task %s not found", hashID)
	}
	delete(s.tasks, hashID)
	for id, j := range s.jobs {
		if j.TaskHashID == hashID {
			delete(s.jobs, id)
		}
	}
	return nil
}

func (s *MemoryStore) InsertJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return apperrors.Conflictf("job %s already exists", job.ID)
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return apperrors.NotFoundf("job %s not found", job.ID)
	}
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	clone := *j
	return &clone, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Job
	for _, j := range s.jobs {
		if !jobMatches(j, filter) {
			continue
		}
		clone := *j
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.After(out[j].ScheduledFor) })
	return paginateJobs(out, filter.Limit, filter.Offset), nil
}

func (s *MemoryStore) CountJobs(_ context.Context, filter JobFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, j := range s.jobs {
		if jobMatches(j, filter) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) LatestJobForTask(_ context.Context, taskHashID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.Job
	for _, j := range s.jobs {
		if j.TaskHashID != taskHashID {
			continue
		}
		if latest == nil || j.ScheduledFor.After(latest.ScheduledFor) {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (s *MemoryStore) RecoverStaleJobs(_ context.Context, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobPending || j.Status == domain.JobRunning {
			j.Status = domain.JobFailed
			j.ErrorMessage = message
			j.FinishedAt = &now
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func taskMatches(t *domain.Task, filter TaskFilter) bool {
	if filter.Source != "" && t.Source != filter.Source {
		return false
	}
	if filter.Enabled != nil && t.Enabled != *filter.Enabled {
		return false
	}
	return true
}

func jobMatches(j *domain.Job, filter JobFilter) bool {
	if filter.TaskHashID != "" && j.TaskHashID != filter.TaskHashID {
		return false
	}
	if filter.Status != "" && j.Status != filter.Status {
		return false
	}
	return true
}

func paginateTasks(in []*domain.Task, limit, offset int) []*domain.Task {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func paginateJobs(in []*domain.Job, limit, offset int) []*domain.Job {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
