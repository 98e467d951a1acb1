package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"task-scheduler-service/internal/task"
)

// LocalQueue implements Queue fully in-process on a gocron scheduler.
// There is no broker, no persistence and no delivery guarantee beyond
// the lifetime of the process; it exists so the scheduler service and
// its tests can run without redis. Failed executions land in an
// in-memory dead-letter map with the same requeue/delete operations the
// asynq backend offers.
type LocalQueue struct {
	scheduler gocron.Scheduler
	harness   *task.Harness

	mu      sync.Mutex
	crons   map[string]*localCronEntry
	pending map[string]Job
	failed  map[string]Job
}

type localCronEntry struct {
	job  gocron.Job
	task *task.Task
}

var _ Queue = (*LocalQueue)(nil)

// NewLocalQueue builds and starts an in-process queue executing through
// the given harness.
func NewLocalQueue(harness *task.Harness) (*LocalQueue, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	q := &LocalQueue{
		scheduler: scheduler,
		harness:   harness,
		crons:     make(map[string]*localCronEntry),
		pending:   make(map[string]Job),
		failed:    make(map[string]Job),
	}
	scheduler.Start()
	return q, nil
}

func (q *LocalQueue) Enqueue(ctx context.Context, t *task.Task) (*Job, error) {
	id := uuid.NewString()
	run := t.Clone("")
	q.mu.Lock()
	q.pending[id] = Job{ID: id, Queue: t.QueueName, Task: run}
	q.mu.Unlock()

	_, err := q.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(func() { q.execute(id) }),
		gocron.WithName("oneoff_"+t.Name),
	)
	if err != nil {
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		return nil, fmt.Errorf("failed to enqueue task %q locally: %w", t.Name, err)
	}
	return &Job{ID: id, Queue: t.QueueName, Task: t}, nil
}

// execute runs a previously enqueued one-off job. A job missing from
// the pending map was cancelled between submission and trigger.
func (q *LocalQueue) execute(id string) {
	q.mu.Lock()
	job, ok := q.pending[id]
	delete(q.pending, id)
	q.mu.Unlock()
	if !ok {
		return
	}
	if err := q.run(job.Task); err != nil {
		job.ErrorMsg = err.Error()
		q.mu.Lock()
		q.failed[id] = job
		q.mu.Unlock()
	}
}

func (q *LocalQueue) run(t *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.Name, r)
		}
	}()
	ctx := context.Background()
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	return q.harness.Run(ctx, t)
}

func (q *LocalQueue) InstallCron(ctx context.Context, t *task.Task) (*Job, error) {
	registered := t.Clone("")
	job, err := q.scheduler.NewJob(
		gocron.CronJob(t.CronExpression, false),
		gocron.NewTask(func() {
			// Every trigger gets a fresh copy: the record id must be
			// unset at each pre-call.
			if err := q.run(registered.Clone("")); err != nil {
				log.Printf("queue: recurring task %q failed: %v", registered.Name, err)
			}
		}),
		gocron.WithName("cron_"+t.Name),
		gocron.WithTags("recurring"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to install cron job for task %q: %w", t.Name, err)
	}
	id := job.ID().String()
	q.mu.Lock()
	q.crons[id] = &localCronEntry{job: job, task: registered}
	q.mu.Unlock()
	return &Job{ID: id, Queue: t.QueueName, Task: t, CronExpression: t.CronExpression}, nil
}

func (q *LocalQueue) ScheduledJobs(ctx context.Context) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.crons))
	for id, entry := range q.crons {
		var next time.Time
		if t, err := entry.job.NextRun(); err == nil {
			next = t
		}
		jobs = append(jobs, Job{
			ID:             id,
			Queue:          entry.task.QueueName,
			Task:           entry.task,
			CronExpression: entry.task.CronExpression,
			NextRun:        next,
		})
	}
	return jobs, nil
}

func (q *LocalQueue) QueuedJobs(ctx context.Context, queueNames []string) ([]Job, error) {
	allowed := make(map[string]bool, len(queueNames))
	for _, name := range queueNames {
		allowed[name] = true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var jobs []Job
	for _, job := range q.pending {
		if len(allowed) > 0 && !allowed[job.Queue] {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *LocalQueue) FailedJobs(ctx context.Context) ([]Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, 0, len(q.failed))
	for _, job := range q.failed {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *LocalQueue) CancelJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	entry, isCron := q.crons[jobID]
	if isCron {
		delete(q.crons, jobID)
	}
	_, isPending := q.pending[jobID]
	if isPending {
		delete(q.pending, jobID)
	}
	q.mu.Unlock()

	if isCron {
		if err := q.scheduler.RemoveJob(entry.job.ID()); err != nil {
			return fmt.Errorf("failed to remove cron job %s: %w", jobID, err)
		}
		return nil
	}
	if isPending {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

func (q *LocalQueue) DeleteFailedJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.failed[jobID]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	delete(q.failed, jobID)
	return nil
}

func (q *LocalQueue) RequeueFailedJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	job, ok := q.failed[jobID]
	if ok {
		delete(q.failed, jobID)
	}
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	_, err := q.Enqueue(ctx, job.Task.Clone(""))
	return err
}

func (q *LocalQueue) Close() error {
	return q.scheduler.Shutdown()
}
