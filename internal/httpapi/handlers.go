package httpapi

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/quickscheduler/qsched/internal/domain"
	apperrors "github.com/quickscheduler/qsched/internal/errors"
	"github.com/quickscheduler/qsched/internal/store"
)

// Trigger is the subset of *scheduler.Scheduler the control API needs;
// declared here so this package doesn't import scheduler (which in turn
// imports catalog and executor), keeping the dependency graph a DAG.
type Trigger interface {
	TriggerNow(hashID string)
}

// Server wires the Store and Scheduler together behind an http.Handler.
type Server struct {
	store   store.Store
	trigger Trigger
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer builds a Server and registers every route.
func NewServer(st store.Store, trig Trigger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: st, trigger: trig, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the fully wrapped http.Handler, ready to pass to
// http.Server.
func (s *Server) Handler() http.Handler {
	return Chain(Recover(s.logger), Logging(s.logger))(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /tasks/{hash_id}", s.handleGetTask)
	s.mux.HandleFunc("PUT /tasks/{hash_id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /tasks/{hash_id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /tasks/{hash_id}/trigger", s.handleTriggerTask)
	s.mux.HandleFunc("GET /jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /jobs/{id}/log", s.handleGetJobLog)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// taskRequest is the wire shape for task creation/update.
type taskRequest struct {
	Name             string               `json:"name"`
	Command          string               `json:"command,omitempty"`
	CallableFunc     string               `json:"callable_func,omitempty"`
	Schedule         domain.TriggerConfig `json:"schedule"`
	WorkingDirectory string               `json:"working_directory,omitempty"`
	Environment      map[string]string    `json:"environment,omitempty"`
	MaxRetries       int                  `json:"max_retries"`
	RetryDelay       durationSeconds      `json:"retry_delay_seconds"`
	Timeout          durationSeconds      `json:"timeout_seconds"`
	Enabled          bool                 `json:"enabled"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := store.TaskFilter{}
	if v := r.URL.Query().Get("enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			filter.Enabled = &b
		}
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	task := req.toTask()
	task.Source = domain.SourceProgrammatic
	if err := task.Validate(); err != nil {
		WriteError(w, err)
		return
	}
	task.ComputeHashID()
	if err := s.store.UpsertTask(r.Context(), task); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("hash_id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	hashID := r.PathValue("hash_id")
	existing, err := s.store.GetTask(r.Context(), hashID)
	if err != nil {
		WriteError(w, err)
		return
	}

	var req taskRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	task := req.toTask()
	task.Source = existing.Source
	task.SourcePath = existing.SourcePath
	if err := task.Validate(); err != nil {
		WriteError(w, err)
		return
	}
	task.ComputeHashID()
	if task.HashID != hashID {
		// content changed identity: remove the old row, insert the new one.
		if err := s.store.DeleteTask(r.Context(), hashID); err != nil {
			WriteError(w, err)
			return
		}
	}
	if err := s.store.UpsertTask(r.Context(), task); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.Context(), r.PathValue("hash_id")); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	hashID := r.PathValue("hash_id")
	if _, err := s.store.GetTask(r.Context(), hashID); err != nil {
		WriteError(w, err)
		return
	}
	s.trigger.TriggerNow(hashID)
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		TaskHashID: r.URL.Query().Get("task_hash_id"),
		Status:     domain.JobStatus(r.URL.Query().Get("status")),
	}
	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetJobLog(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if job.LogPath == "" {
		WriteError(w, apperrors.NotFound("job has no log"))
		return
	}
	content, err := os.ReadFile(job.LogPath) //nolint:gosec // path is server-generated, not user input
	if err != nil {
		WriteError(w, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "read job log"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// durationSeconds lets the wire format express durations as plain
// integer seconds instead of Go's "5s" duration strings, matching the
// original schedule_config's plain-number fields.
type durationSeconds int

func (d durationSeconds) toDuration() time.Duration {
	return time.Duration(d) * time.Second
}

func (req taskRequest) toTask() *domain.Task {
	return &domain.Task{
		Name:             req.Name,
		Command:          req.Command,
		CallableFunc:     req.CallableFunc,
		Schedule:         req.Schedule,
		WorkingDirectory: req.WorkingDirectory,
		Environment:      req.Environment,
		MaxRetries:       req.MaxRetries,
		RetryDelay:       req.RetryDelay.toDuration(),
		Timeout:          req.Timeout.toDuration(),
		Enabled:          req.Enabled,
	}
}
