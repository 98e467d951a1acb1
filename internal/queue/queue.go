// Package queue abstracts the external job queue the dispatcher talks
// to: enqueue-once, recurring cron installation, and visibility into
// scheduled, queued and failed jobs. The asynq backend is the
// production implementation; the local backend runs everything
// in-process for development and tests.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"task-scheduler-service/internal/task"
)

// MessageType tags every job payload this system owns. Listings filter
// on it so foreign jobs sharing the broker are never surfaced.
const MessageType = "scheduler:run_task"

// ErrJobNotFound is returned by job-id operations when no job with the
// given id exists in the relevant state.
var ErrJobNotFound = errors.New("job not found")

// Job is a queue entry as seen from the dispatcher.
type Job struct {
	ID    string     `json:"id"`
	Queue string     `json:"queue,omitempty"`
	Task  *task.Task `json:"task"`

	// CronExpression is set for recurring registrations.
	CronExpression string    `json:"cron_expression,omitempty"`
	NextRun        time.Time `json:"next_run,omitempty"`

	// ErrorMsg carries the last failure for dead-letter entries.
	ErrorMsg string `json:"error_msg,omitempty"`
}

// Queue is the broker-facing contract. Errors from the backend
// propagate unchanged; retry policy lives inside the backend, never
// here.
type Queue interface {
	// Enqueue submits a one-off execution of the task.
	Enqueue(ctx context.Context, t *task.Task) (*Job, error)

	// InstallCron registers the task as a recurring job driven by its
	// cron expression.
	InstallCron(ctx context.Context, t *task.Task) (*Job, error)

	// ScheduledJobs lists recurring registrations carrying this
	// system's payload marker.
	ScheduledJobs(ctx context.Context) ([]Job, error)

	// QueuedJobs lists pending one-off jobs, optionally restricted to
	// the given queue names.
	QueuedJobs(ctx context.Context, queueNames []string) ([]Job, error)

	// FailedJobs lists the dead-letter queue. Entries whose payload
	// cannot be decoded are skipped with a log line, never fatal.
	FailedJobs(ctx context.Context) ([]Job, error)

	// CancelJob removes a scheduled or pending job.
	CancelJob(ctx context.Context, jobID string) error

	// DeleteFailedJob drops a dead-letter entry.
	DeleteFailedJob(ctx context.Context, jobID string) error

	// RequeueFailedJob moves a dead-letter entry back onto its queue.
	RequeueFailedJob(ctx context.Context, jobID string) error

	// Close releases broker connections.
	Close() error
}

// EncodeTask serializes a task for the job payload.
func EncodeTask(t *task.Task) ([]byte, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task %q: %w", t.Name, err)
	}
	return payload, nil
}

// DecodeTask deserializes a job payload back into a task.
func DecodeTask(payload []byte) (*task.Task, error) {
	var t task.Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task payload: %w", err)
	}
	return &t, nil
}
