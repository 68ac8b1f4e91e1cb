package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quickscheduler/qsched/internal/data/database"
	"github.com/quickscheduler/qsched/internal/domain"
	apperrors "github.com/quickscheduler/qsched/internal/errors"
)

// PostgresStore persists Tasks and Jobs to PostgreSQL via database/sql
// and the pgx stdlib driver, matching the connection the teacher's
// bootstrap.ConnectDB already establishes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-connected *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) UpsertTask(ctx context.Context, task *domain.Task) error {
	scheduleJSON, err := json.Marshal(task.Schedule)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal schedule")
	}
	envJSON, err := json.Marshal(task.Environment)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal environment")
	}

	now := time.Now().UTC()
	const q = `
INSERT INTO tasks (
	hash_id, name, command, callable_func, schedule, working_directory,
	environment, max_retries, retry_delay_seconds, timeout_seconds,
	enabled, source, source_path, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
ON CONFLICT (hash_id) DO UPDATE SET
	name = EXCLUDED.name,
	command = EXCLUDED.command,
	callable_func = EXCLUDED.callable_func,
	schedule = EXCLUDED.schedule,
	working_directory = EXCLUDED.working_directory,
	environment = EXCLUDED.environment,
	max_retries = EXCLUDED.max_retries,
	retry_delay_seconds = EXCLUDED.retry_delay_seconds,
	timeout_seconds = EXCLUDED.timeout_seconds,
	enabled = EXCLUDED.enabled,
	source = EXCLUDED.source,
	source_path = EXCLUDED.source_path,
	updated_at = EXCLUDED.updated_at
RETURNING created_at, updated_at`

	row := s.db.QueryRowContext(ctx, q,
		task.HashID, task.Name, nullableString(task.Command), nullableString(task.CallableFunc),
		scheduleJSON, task.WorkingDirectory, envJSON, task.MaxRetries,
		int(task.RetryDelay.Seconds()), int(task.Timeout.Seconds()),
		task.Enabled, string(task.Source), nullableString(task.SourcePath), now,
	)
	if err := row.Scan(&task.CreatedAt, &task.UpdatedAt); err != nil {
		return classifyError(err, "upsert task")
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, hashID string) (*domain.Task, error) {
	const q = `
SELECT hash_id, name, command, callable_func, schedule, working_directory,
       environment, max_retries, retry_delay_seconds, timeout_seconds,
       enabled, source, source_path, created_at, updated_at
FROM tasks WHERE hash_id = $1`

	row := s.db.QueryRowContext(ctx, q, hashID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("task %s not found", hashID)
		}
		return nil, classifyError(err, "get task")
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error) {
	opts := taskListOptions(filter)
	query, args := database.BuildListQuery(opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err, "list tasks")
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, classifyError(err, "scan task")
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountTasks(ctx context.Context, filter TaskFilter) (int, error) {
	opts := taskListOptions(filter)
	opts2 := *opts
	opts2.CountOnly = true
	query, args := database.BuildListQuery(&opts2)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classifyError(err, "count tasks")
	}
	return n, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, hashID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE hash_id = $1`, hashID)
	if err != nil {
		return classifyError(err, "delete task")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyError(err, "delete task")
	}
	if n == 0 {
		return apperrors.NotFoundf("task %s not found", hashID)
	}
	return nil
}

func (s *PostgresStore) InsertJob(ctx context.Context, job *domain.Job) error {
	const q = `
INSERT INTO jobs (
	id, task_hash_id, status, scheduled_for, started_at, finished_at,
	retry_count, error_message, log_path, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`

	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, q,
		job.ID, job.TaskHashID, string(job.Status), job.ScheduledFor,
		job.StartedAt, job.FinishedAt, job.RetryCount,
		nullableString(job.ErrorMessage), nullableString(job.LogPath), now,
	)
	if err != nil {
		return classifyError(err, "insert job")
	}
	return nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = time.Now().UTC()
	const q = `
UPDATE jobs SET status=$2, started_at=$3, finished_at=$4, retry_count=$5,
	error_message=$6, log_path=$7, updated_at=$8
WHERE id=$1`
	res, err := s.db.ExecContext(ctx, q,
		job.ID, string(job.Status), job.StartedAt, job.FinishedAt, job.RetryCount,
		nullableString(job.ErrorMessage), nullableString(job.LogPath), job.UpdatedAt,
	)
	if err != nil {
		return classifyError(err, "update job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyError(err, "update job")
	}
	if n == 0 {
		return apperrors.NotFoundf("job %s not found", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	const q = `
SELECT id, task_hash_id, status, scheduled_for, started_at, finished_at,
       retry_count, error_message, log_path, created_at, updated_at
FROM jobs WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, classifyError(err, "get job")
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	opts := jobListOptions(filter)
	query, args := database.BuildListQuery(opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err, "list jobs")
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, classifyError(err, "scan job")
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountJobs(ctx context.Context, filter JobFilter) (int, error) {
	opts := jobListOptions(filter)
	opts2 := *opts
	opts2.CountOnly = true
	query, args := database.BuildListQuery(&opts2)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classifyError(err, "count jobs")
	}
	return n, nil
}

func (s *PostgresStore) LatestJobForTask(ctx context.Context, taskHashID string) (*domain.Job, error) {
	const q = `
SELECT id, task_hash_id, status, scheduled_for, started_at, finished_at,
       retry_count, error_message, log_path, created_at, updated_at
FROM jobs WHERE task_hash_id = $1 ORDER BY scheduled_for DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, taskHashID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classifyError(err, "latest job for task")
	}
	return job, nil
}

func (s *PostgresStore) RecoverStaleJobs(ctx context.Context, message string) (int, error) {
	const q = `
UPDATE jobs SET status = $1, error_message = $2, finished_at = $3, updated_at = $3
WHERE status IN ($4, $5)`
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, q, string(domain.JobFailed), message, now, string(domain.JobPending), string(domain.JobRunning))
	if err != nil {
		return 0, classifyError(err, "recover stale jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classifyError(err, "recover stale jobs")
	}
	return int(n), nil
}

// row is the subset of *sql.Row/*sql.Rows Scan needs.
type row interface {
	Scan(dest ...any) error
}

func scanTask(r row) (*domain.Task, error) {
	var t domain.Task
	var command, callable, workDir, sourcePath sql.NullString
	var scheduleJSON, envJSON []byte
	var source string
	var retryDelaySeconds, timeoutSeconds int

	if err := r.Scan(
		&t.HashID, &t.Name, &command, &callable, &scheduleJSON, &workDir,
		&envJSON, &t.MaxRetries, &retryDelaySeconds, &timeoutSeconds,
		&t.Enabled, &source, &sourcePath, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Command = command.String
	t.CallableFunc = callable.String
	t.WorkingDirectory = workDir.String
	t.SourcePath = sourcePath.String
	t.Source = domain.TaskSource(source)
	t.RetryDelay = time.Duration(retryDelaySeconds) * time.Second
	t.Timeout = time.Duration(timeoutSeconds) * time.Second
	if len(scheduleJSON) > 0 {
		_ = json.Unmarshal(scheduleJSON, &t.Schedule)
	}
	if len(envJSON) > 0 {
		_ = json.Unmarshal(envJSON, &t.Environment)
	}
	return &t, nil
}

func scanJob(r row) (*domain.Job, error) {
	var j domain.Job
	var status string
	var errMsg, logPath sql.NullString
	if err := r.Scan(
		&j.ID, &j.TaskHashID, &status, &j.ScheduledFor, &j.StartedAt, &j.FinishedAt,
		&j.RetryCount, &errMsg, &logPath, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Status = domain.JobStatus(status)
	j.ErrorMessage = errMsg.String
	j.LogPath = logPath.String
	return &j, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func taskListOptions(filter TaskFilter) *database.ListQueryOptions {
	var conds []database.Condition
	if filter.Source != "" {
		conds = append(conds, database.WhereCond("source", database.Equal, string(filter.Source)))
	}
	if filter.Enabled != nil {
		conds = append(conds, database.WhereCond("enabled", database.Equal, *filter.Enabled))
	}
	return database.NewListQueryOptions("tasks",
		database.WithConditions(conds...),
		database.WithOrderBy("hash_id", "ASC"),
		database.WithLimit(filter.Limit),
		database.WithOffset(filter.Offset),
	)
}

func jobListOptions(filter JobFilter) *database.ListQueryOptions {
	var conds []database.Condition
	if filter.TaskHashID != "" {
		conds = append(conds, database.WhereCond("task_hash_id", database.Equal, filter.TaskHashID))
	}
	if filter.Status != "" {
		conds = append(conds, database.WhereCond("status", database.Equal, string(filter.Status)))
	}
	return database.NewListQueryOptions("jobs",
		database.WithConditions(conds...),
		database.WithOrderBy("scheduled_for", "DESC"),
		database.WithLimit(filter.Limit),
		database.WithOffset(filter.Offset),
	)
}

// classifyError maps a pgx/database error into the internal/errors
// taxonomy so HTTP handlers can translate it to a status code without
// knowing about Postgres error codes.
func classifyError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return apperrors.Wrap(err, apperrors.ErrCodeConflict, msg)
		case pgerrcode.ForeignKeyViolation:
			return apperrors.Wrap(err, apperrors.ErrCodeForeignKey, msg)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, msg)
	}
	return apperrors.Wrap(err, apperrors.ErrCodeInternal, msg)
}
