package webui

import (
	"log/slog"
	"net/http"
)

const jobLogMaxBytes = 256 * 1024

// Server serves the read-only dashboard, rendering pages from data
// fetched through Client against the control API.
type Server struct {
	client   *Client
	renderer *Renderer
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer builds a webui Server. controlAPIBaseURL points at the HTTP
// control API this process (or a sibling process sharing the Store)
// exposes.
func NewServer(controlAPIBaseURL string, logger *slog.Logger) (*Server, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		client:   NewClient(controlAPIBaseURL),
		renderer: renderer,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /", s.handleIndex)
	s.mux.HandleFunc("GET /tasks", s.handleTasks)
	s.mux.HandleFunc("GET /tasks/{hash_id}", s.handleTaskDetail)
	s.mux.HandleFunc("GET /jobs", s.handleJobs)
	s.mux.HandleFunc("GET /jobs/{id}", s.handleJobDetail)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/tasks", http.StatusFound)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.client.ListTasks(r.Context(), nil)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	s.render(w, r, "tasks", map[string]any{
		"Title": "Tasks",
		"Tasks": tasks,
	})
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	hashID := r.PathValue("hash_id")
	task, err := s.client.GetTask(r.Context(), hashID)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	jobs, err := s.client.ListJobs(r.Context(), hashID)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	s.render(w, r, "task_detail", map[string]any{
		"Title": "Task: " + task.Name,
		"Task":  task,
		"Jobs":  jobs,
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.client.ListJobs(r.Context(), r.URL.Query().Get("task_hash_id"))
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	s.render(w, r, "jobs", map[string]any{
		"Title": "Jobs",
		"Jobs":  jobs,
	})
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.client.GetJob(r.Context(), id)
	if err != nil {
		s.renderErr(w, r, err)
		return
	}
	logText, err := s.client.GetJobLog(r.Context(), id, jobLogMaxBytes)
	if err != nil {
		s.logger.WarnContext(r.Context(), "fetch job log failed", "job_id", id, "error", err)
	}
	s.render(w, r, "job_detail", map[string]any{
		"Title": "Job: " + id,
		"Job":   job,
		"Log":   logText,
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	if err := s.renderer.Render(w, name, data); err != nil {
		s.logger.ErrorContext(r.Context(), "render page failed", "template", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) renderErr(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.WarnContext(r.Context(), "webui fetch from control API failed", "path", r.URL.Path, "error", err)
	http.Error(w, "not found", http.StatusNotFound)
}
