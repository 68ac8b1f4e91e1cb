// Package catalog merges Tasks registered programmatically (in Go code,
// at process start) with Tasks declared in a directory of YAML files, and
// reconciles that merged set against the Store: new tasks are added,
// vanished tasks are removed, and a task whose content changed is removed
// then re-added under its new hash_id rather than mutated in place, so
// the Scheduler never has to special-case a live content change.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quickscheduler/qsched/internal/domain"
	apperrors "github.com/quickscheduler/qsched/internal/errors"
	"github.com/quickscheduler/qsched/internal/store"
	"github.com/quickscheduler/qsched/internal/yamlconfig"
)

// taskDoc mirrors the YAML shape of one catalog entry.
type taskDoc struct {
	Name             string            `yaml:"name"`
	Command          string            `yaml:"command"`
	CallableFunc     string            `yaml:"callable_func"`
	WorkingDirectory string            `yaml:"working_directory"`
	Environment      map[string]string `yaml:"environment"`
	MaxRetries       int               `yaml:"max_retries"`
	RetryDelay       string            `yaml:"retry_delay"`
	Timeout          string            `yaml:"timeout"`
	Enabled          *bool             `yaml:"enabled"`
	Schedule         struct {
		Type      string   `yaml:"type"`
		Timezone  string   `yaml:"timezone"`
		TimeOfDay string   `yaml:"time_of_day"`
		Weekdays  []int    `yaml:"weekdays"`
		Dates     []string `yaml:"dates"`
		StartAt   string   `yaml:"start_at"`
		EndAt     string   `yaml:"end_at"`
		Interval  string   `yaml:"interval"`
	} `yaml:"schedule"`
}

func (d taskDoc) toTask(sourcePath string) (*domain.Task, error) {
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	retryDelay, err := parseDuration(d.RetryDelay)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "parse retry_delay")
	}
	timeout, err := parseDuration(d.Timeout)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "parse timeout")
	}
	interval, err := parseDuration(d.Schedule.Interval)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "parse schedule.interval")
	}
	startAt, err := parseTimestamp(d.Schedule.StartAt)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "parse schedule.start_at")
	}
	endAt, err := parseTimestamp(d.Schedule.EndAt)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "parse schedule.end_at")
	}

	task := &domain.Task{
		Name:             d.Name,
		Command:          d.Command,
		CallableFunc:     d.CallableFunc,
		WorkingDirectory: d.WorkingDirectory,
		Environment:      d.Environment,
		MaxRetries:       d.MaxRetries,
		RetryDelay:       retryDelay,
		Timeout:          timeout,
		Enabled:          enabled,
		Source:           domain.SourceYAML,
		SourcePath:       sourcePath,
		Schedule: domain.TriggerConfig{
			Type:      domain.TriggerType(strings.ToUpper(d.Schedule.Type)),
			Timezone:  d.Schedule.Timezone,
			TimeOfDay: d.Schedule.TimeOfDay,
			Weekdays:  d.Schedule.Weekdays,
			Dates:     d.Schedule.Dates,
			StartAt:   startAt,
			EndAt:     endAt,
			Interval:  interval,
		},
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	task.ComputeHashID()
	return task, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Catalog merges programmatic and YAML-file task sources and reconciles
// them against a Store.
type Catalog struct {
	dir   string
	store store.Store

	mu           sync.Mutex
	programmatic map[string]*domain.Task
	fileTasks    map[string]*domain.Task
	fileMeta     map[string]fileStamp
	liveHashIDs  map[string]bool

	// reconcileGroup collapses overlapping Reconcile calls from
	// concurrent callers into a single directory scan and Store round
	// trip.
	reconcileGroup singleflight.Group
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// New builds a Catalog that reads YAML task files from dir (non-recursive,
// *.yaml/*.yml) and reconciles against st.
func New(dir string, st store.Store) *Catalog {
	return &Catalog{
		dir:          dir,
		store:        st,
		programmatic: make(map[string]*domain.Task),
		fileTasks:    make(map[string]*domain.Task),
		fileMeta:     make(map[string]fileStamp),
		liveHashIDs:  make(map[string]bool),
	}
}

// RegisterProgrammatic adds or replaces a programmatically defined Task.
// Programmatic tasks always win hash_id collisions against YAML-sourced
// tasks.
func (c *Catalog) RegisterProgrammatic(task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	task.Source = domain.SourceProgrammatic
	task.ComputeHashID()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.programmatic[task.HashID] = task
	return nil
}

// rescanFiles re-reads every *.yaml/*.yml file in the catalog directory
// whose mtime or size changed since the last scan, replacing fileTasks
// wholesale (a file can declare multiple tasks, and a deleted file's
// tasks must disappear from fileTasks too).
func (c *Catalog) rescanFiles() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "read catalog directory")
	}

	seen := make(map[string]bool)
	changed := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(c.dir, name)
		seen[path] = true

		info, err := entry.Info()
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "stat catalog file")
		}
		stamp := fileStamp{modTime: info.ModTime(), size: info.Size()}
		if existing, ok := c.fileMeta[path]; ok && existing == stamp {
			continue
		}
		changed = true

		tasks, err := loadTasksFromFile(path)
		if err != nil {
			return fmt.Errorf("load catalog file %s: %w", path, err)
		}
		for hashID, t := range c.fileTasks {
			if t.SourcePath == path {
				delete(c.fileTasks, hashID)
			}
		}
		for _, t := range tasks {
			c.fileTasks[t.HashID] = t
		}
		c.fileMeta[path] = stamp
	}

	for path := range c.fileMeta {
		if !seen[path] {
			delete(c.fileMeta, path)
			changed = true
		}
	}
	if changed {
		c.pruneFileTasksToKnownFiles()
	}
	return nil
}

// pruneFileTasksToKnownFiles drops any in-memory fileTasks entry whose
// SourcePath is no longer among the files currently on disk.
func (c *Catalog) pruneFileTasksToKnownFiles() {
	for hashID, t := range c.fileTasks {
		if _, ok := c.fileMeta[t.SourcePath]; !ok {
			delete(c.fileTasks, hashID)
		}
	}
}

func loadTasksFromFile(path string) ([]*domain.Task, error) {
	cfg, err := yamlconfig.Load(path)
	if err != nil {
		return nil, err
	}
	var docs []taskDoc
	if err := cfg.DecodeTasks(&docs); err != nil {
		return nil, err
	}
	tasks := make([]*domain.Task, 0, len(docs))
	for _, d := range docs {
		task, err := d.toTask(path)
		if err != nil {
			return nil, fmt.Errorf("task %q in %s: %w", d.Name, path, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// merged returns the current union of programmatic and file-sourced
// tasks, keyed by hash_id, with programmatic entries taking precedence.
func (c *Catalog) merged() map[string]*domain.Task {
	out := make(map[string]*domain.Task, len(c.programmatic)+len(c.fileTasks))
	for id, t := range c.fileTasks {
		out[id] = t
	}
	for id, t := range c.programmatic {
		out[id] = t
	}
	return out
}

// Diff summarizes what changed between two reconciliation passes.
type Diff struct {
	Added   []*domain.Task
	Removed []string
}

// Reconcile rescans the catalog directory, recomputes the merged set,
// diffs it against the previously live hash_ids, and applies the result
// to the Store: added tasks are upserted, removed tasks (including ones
// whose content changed, which removes the old hash_id and adds the new
// one) are deleted.
func (c *Catalog) Reconcile(ctx context.Context) (Diff, error) {
	v, err, _ := c.reconcileGroup.Do("reconcile", func() (any, error) {
		return c.reconcileLocked(ctx)
	})
	if err != nil {
		return Diff{}, err
	}
	return v.(Diff), nil
}

func (c *Catalog) reconcileLocked(ctx context.Context) (Diff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rescanFiles(); err != nil {
		return Diff{}, err
	}

	merged := c.merged()
	var diff Diff
	for id, task := range merged {
		if !c.liveHashIDs[id] {
			if err := c.store.UpsertTask(ctx, task); err != nil {
				return Diff{}, fmt.Errorf("upsert task %s: %w", id, err)
			}
			diff.Added = append(diff.Added, task)
		}
	}
	for id := range c.liveHashIDs {
		if _, stillPresent := merged[id]; !stillPresent {
			if err := c.store.DeleteTask(ctx, id); err != nil && !apperrors.IsNotFound(err) {
				return Diff{}, fmt.Errorf("delete task %s: %w", id, err)
			}
			diff.Removed = append(diff.Removed, id)
		}
	}

	c.liveHashIDs = make(map[string]bool, len(merged))
	for id := range merged {
		c.liveHashIDs[id] = true
	}

	sort.Slice(diff.Added, func(i, j int) bool { return diff.Added[i].HashID < diff.Added[j].HashID })
	sort.Strings(diff.Removed)
	return diff, nil
}
