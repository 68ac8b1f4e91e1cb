package webui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickscheduler/qsched/internal/domain"
)

func newFakeControlAPI(t *testing.T) *httptest.Server {
	t.Helper()
	task := &domain.Task{
		HashID:  "abc123",
		Name:    "demo",
		Command: "echo hi",
		Schedule: domain.TriggerConfig{
			Type: domain.TriggerImmediate,
		},
		Enabled: true,
	}
	job := domain.NewJob(task.HashID, task.CreatedAt)
	job.Status = domain.JobCompleted

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tasks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]*domain.Task{task})
	})
	mux.HandleFunc("GET /tasks/{hash_id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("hash_id") != task.HashID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(task)
	})
	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]*domain.Job{job})
	})
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != job.ID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(job)
	})
	mux.HandleFunc("GET /jobs/{id}/log", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != job.ID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("command: echo hi\nhi\n"))
	})
	return httptest.NewServer(mux)
}

func newTestWebUIServer(t *testing.T) (*Server, *domain.Task, *domain.Job) {
	t.Helper()
	api := newFakeControlAPI(t)
	t.Cleanup(api.Close)

	s, err := NewServer(api.URL, nil)
	require.NoError(t, err)

	task := &domain.Task{HashID: "abc123"}
	job := domain.NewJob(task.HashID, task.CreatedAt)
	return s, task, job
}

func TestHandleTasks(t *testing.T) {
	s, _, _ := newTestWebUIServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "demo")
}

func TestHandleTaskDetail(t *testing.T) {
	s, task, _ := newTestWebUIServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/"+task.HashID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "echo hi")
}

func TestHandleTaskDetail_NotFound(t *testing.T) {
	s, _, _ := newTestWebUIServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleJobs(t *testing.T) {
	s, _, _ := newTestWebUIServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "COMPLETED")
}

func TestHandleJobDetail_NotFound(t *testing.T) {
	s, _, job := newTestWebUIServer(t)
	_ = job
	rec := httptest.NewRecorder()
	// the fake API's job has a generated ID this test does not extract; it
	// checks that the jobs list renders and that an unknown job ID is a 404.
	listRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, listRec.Code)

	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleIndex_RedirectsToTasks(t *testing.T) {
	s, _, _ := newTestWebUIServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/tasks", rec.Header().Get("Location"))
}
