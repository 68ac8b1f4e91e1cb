// Package webui is the read-only browser surface: server-rendered HTML
// pages for tasks and jobs, fetched from the control API via Client
// rather than a JavaScript SPA. Every mutation goes through the HTTP
// control API directly; this package never writes.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quickscheduler/qsched/internal/domain"
	apperrors "github.com/quickscheduler/qsched/internal/errors"
)

// Client is a thin Go client over the control API's JSON endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client targeting the control API at baseURL (e.g.
// "http://localhost:8080").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "build control API request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "call control API")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.NotFoundf("%s not found", path)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return apperrors.Internalf("control API returned %d for %s", resp.StatusCode, path)
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// ListTasks fetches every task known to the control API, optionally
// filtered to enabled/disabled.
func (c *Client) ListTasks(ctx context.Context, enabledOnly *bool) ([]*domain.Task, error) {
	path := "/tasks"
	if enabledOnly != nil {
		path += "?enabled=" + url.QueryEscape(fmt.Sprintf("%t", *enabledOnly))
	}
	var tasks []*domain.Task
	if err := c.get(ctx, path, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches a single task by hash_id.
func (c *Client) GetTask(ctx context.Context, hashID string) (*domain.Task, error) {
	var task domain.Task
	if err := c.get(ctx, "/tasks/"+url.PathEscape(hashID), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListJobs fetches jobs for a task, most recent first.
func (c *Client) ListJobs(ctx context.Context, taskHashID string) ([]*domain.Job, error) {
	path := "/jobs"
	if taskHashID != "" {
		path += "?task_hash_id=" + url.QueryEscape(taskHashID)
	}
	var jobs []*domain.Job
	if err := c.get(ctx, path, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches a single job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := c.get(ctx, "/jobs/"+url.PathEscape(id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobLog fetches the job's combined stdout/stderr log text, truncated
// to maxBytes from the end so the page stays small for long-running jobs.
func (c *Client) GetJobLog(ctx context.Context, id string, maxBytes int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+url.PathEscape(id)+"/log", nil)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "build control API request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "call control API")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", apperrors.Internalf("control API returned %d for job log", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "read job log")
	}
	if int64(len(body)) > maxBytes {
		body = body[int64(len(body))-maxBytes:]
	}
	return string(body), nil
}
