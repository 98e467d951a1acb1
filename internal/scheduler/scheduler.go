// Package scheduler maps tasks onto operations against the external
// job queue and answers fleet-visibility queries. It adds no retry
// policy of its own; queue backend errors propagate to the caller
// unchanged.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"task-scheduler-service/internal/queue"
	"task-scheduler-service/internal/task"
)

// Manager selects how a task is submitted.
type Manager string

const (
	// ManagerInstant runs the task synchronously in the caller's
	// context. The call blocks for the full execution and failures
	// propagate directly; meant for tests and debugging.
	ManagerInstant Manager = "instant"

	// ManagerQueue installs the task as a recurring cron job on the
	// external queue.
	ManagerQueue Manager = "queue"
)

// ErrNoSchedulingMethod is returned when a recurring registration is
// requested for a task without a cron expression.
var ErrNoSchedulingMethod = errors.New("task has no cron expression; cannot register a recurring job")

// cronParser accepts the standard 5-field syntax only. The extended
// 6-field form silently shifts the meaning of every field, so it is
// rejected up front.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Scheduler is the dispatcher over one queue backend.
type Scheduler struct {
	queue      queue.Queue
	harness    *task.Harness
	queueNames []string
}

// New builds a dispatcher. queueNames is the configured queue list; its
// first entry is the default destination for tasks that do not name
// one.
func New(q queue.Queue, harness *task.Harness, queueNames []string) *Scheduler {
	return &Scheduler{queue: q, harness: harness, queueNames: queueNames}
}

// applyDefaults fills the task's queue name from configuration. A task
// reaching the queue with no destination would be undeliverable.
func (s *Scheduler) applyDefaults(t *task.Task) error {
	if t.QueueName == "" {
		if len(s.queueNames) == 0 {
			return fmt.Errorf("task %q has no queue name and no default is configured", t.Name)
		}
		t.QueueName = s.queueNames[0]
	}
	return nil
}

// AddToSchedule submits a task through the named manager. The returned
// job is nil for instant runs, which have no queue presence.
func (s *Scheduler) AddToSchedule(ctx context.Context, t *task.Task, manager Manager) (*queue.Job, error) {
	if err := s.applyDefaults(t); err != nil {
		return nil, err
	}
	switch manager {
	case ManagerInstant:
		return nil, s.harness.Run(ctx, t)
	case ManagerQueue:
		if t.CronExpression == "" {
			return nil, fmt.Errorf("task %q: %w", t.Name, ErrNoSchedulingMethod)
		}
		if _, err := cronParser.Parse(t.CronExpression); err != nil {
			return nil, fmt.Errorf("task %q has invalid cron expression %q: %w", t.Name, t.CronExpression, err)
		}
		return s.queue.InstallCron(ctx, t)
	default:
		return nil, fmt.Errorf("unknown manager %q (want %q or %q)", manager, ManagerInstant, ManagerQueue)
	}
}

// LaunchRawTask enqueues a one-off execution immediately. Any cron
// expression is stripped from the submission: a one-off run must never
// turn into a recurring registration.
func (s *Scheduler) LaunchRawTask(ctx context.Context, t *task.Task) (*queue.Job, error) {
	oneOff := t.Clone("")
	oneOff.CronExpression = ""
	if err := s.applyDefaults(oneOff); err != nil {
		return nil, err
	}
	return s.queue.Enqueue(ctx, oneOff)
}

// LaunchJob triggers an ad-hoc run of a previously scheduled job: the
// job's task is cloned under a copy suffix and enqueued as a one-off,
// leaving the recurring registration untouched.
func (s *Scheduler) LaunchJob(ctx context.Context, jobID string) (*queue.Job, error) {
	job, err := s.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	clone := job.Task.Clone(task.CopySuffix)
	log.Printf("scheduler: launching copy %q of job %s", clone.Name, jobID)
	return s.LaunchRawTask(ctx, clone)
}

// FindJob resolves a job id against the scheduled-job registry,
// returning nil when no job matches.
func (s *Scheduler) FindJob(ctx context.Context, jobID string) (*queue.Job, error) {
	jobs, err := s.queue.ScheduledJobs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].ID == jobID {
			return &jobs[i], nil
		}
	}
	return nil, nil
}

// CancelJob removes a scheduled or queued job.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	return s.queue.CancelJob(ctx, jobID)
}

// CleanupJob drops an entry from the dead-letter queue.
func (s *Scheduler) CleanupJob(ctx context.Context, jobID string) error {
	return s.queue.DeleteFailedJob(ctx, jobID)
}

// RequeueJob moves a dead-letter entry back onto its queue.
func (s *Scheduler) RequeueJob(ctx context.Context, jobID string) error {
	return s.queue.RequeueFailedJob(ctx, jobID)
}

// GetScheduledJobs lists recurring registrations.
func (s *Scheduler) GetScheduledJobs(ctx context.Context) ([]queue.Job, error) {
	return s.queue.ScheduledJobs(ctx)
}

// GetQueuedJobs lists pending one-off jobs, restricted to the allowed
// queue names when given.
func (s *Scheduler) GetQueuedJobs(ctx context.Context, allowedQueueNames []string) ([]queue.Job, error) {
	return s.queue.QueuedJobs(ctx, allowedQueueNames)
}

// GetFailedJobs lists the dead-letter queue.
func (s *Scheduler) GetFailedJobs(ctx context.Context) ([]queue.Job, error) {
	return s.queue.FailedJobs(ctx)
}

// AddTaskIfUnscheduled registers each task whose name is not already
// present among the scheduled jobs. Called at startup to seed recurring
// tasks without duplicating them on every restart.
//
// Presence is read from the broker's scheduler entries. Entries from a
// scheduler process that died uncleanly stay listed until their
// heartbeat expires; a restart inside that window skips the affected
// tasks, and they are not re-registered until the following startup.
func (s *Scheduler) AddTaskIfUnscheduled(ctx context.Context, tasks []*task.Task, manager Manager) error {
	scheduled, err := s.queue.ScheduledJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scheduled jobs for seeding: %w", err)
	}
	present := make(map[string]bool, len(scheduled))
	for _, job := range scheduled {
		if job.Task != nil {
			present[job.Task.Name] = true
		}
	}
	for _, t := range tasks {
		if present[t.Name] {
			log.Printf("scheduler: task %q already scheduled; skipping", t.Name)
			continue
		}
		if _, err := s.AddToSchedule(ctx, t, manager); err != nil {
			return fmt.Errorf("failed to seed task %q: %w", t.Name, err)
		}
		log.Printf("scheduler: seeded recurring task %q (%s)", t.Name, t.CronExpression)
	}
	return nil
}
