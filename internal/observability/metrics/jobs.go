package metrics

import (
	"time"

	"github.com/quickscheduler/qsched/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	TaskName   string
	Transition string
	Result     string
	Duration   time.Duration
	RetryCount int
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"task":       in.TaskName,
		"transition": in.Transition,
		"result":     in.Result,
	}

	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
	if in.RetryCount > 0 {
		sink.Count("job.retry", int64(in.RetryCount), CloneTags(tags))
	}
}

// EmitTriggerFired records that a trigger produced a due job.
func EmitTriggerFired(sink statsd.Sink, taskName string) {
	if sink == nil {
		return
	}
	sink.Count("trigger.fired", 1, map[string]string{"task": taskName})
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
