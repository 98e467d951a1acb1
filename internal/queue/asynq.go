package queue

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"task-scheduler-service/internal/task"
)

const listPageSize = 200

// AsynqQueue implements Queue on a redis-backed asynq broker: one-off
// jobs go through the client, recurring registrations through the
// scheduler, and all visibility queries through the inspector. The
// broker offers at-least-once delivery and keeps exhausted jobs in a
// per-queue archive, which serves as the dead-letter list here.
type AsynqQueue struct {
	client     *asynq.Client
	scheduler  *asynq.Scheduler
	inspector  *asynq.Inspector
	queueNames []string
}

var _ Queue = (*AsynqQueue)(nil)

// NewAsynqQueue connects all three broker roles against one redis
// instance. queueNames bounds which queues the listing and dead-letter
// operations will touch.
func NewAsynqQueue(redisOpt asynq.RedisClientOpt, queueNames []string) *AsynqQueue {
	return &AsynqQueue{
		client:     asynq.NewClient(redisOpt),
		scheduler:  asynq.NewScheduler(redisOpt, nil),
		inspector:  asynq.NewInspector(redisOpt),
		queueNames: queueNames,
	}
}

// StartScheduler begins dispatching registered cron entries. Only one
// process per deployment needs to run it.
func (q *AsynqQueue) StartScheduler() error {
	return q.scheduler.Start()
}

func (q *AsynqQueue) Close() error {
	q.scheduler.Shutdown()
	if err := q.inspector.Close(); err != nil {
		return err
	}
	return q.client.Close()
}

func (q *AsynqQueue) options(t *task.Task) []asynq.Option {
	opts := []asynq.Option{asynq.Queue(t.QueueName)}
	if t.Timeout > 0 {
		opts = append(opts, asynq.Timeout(t.Timeout))
	}
	return opts
}

func (q *AsynqQueue) Enqueue(ctx context.Context, t *task.Task) (*Job, error) {
	payload, err := EncodeTask(t)
	if err != nil {
		return nil, err
	}
	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(MessageType, payload), q.options(t)...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task %q: %w", t.Name, err)
	}
	return &Job{ID: info.ID, Queue: info.Queue, Task: t}, nil
}

func (q *AsynqQueue) InstallCron(ctx context.Context, t *task.Task) (*Job, error) {
	payload, err := EncodeTask(t)
	if err != nil {
		return nil, err
	}
	entryID, err := q.scheduler.Register(t.CronExpression, asynq.NewTask(MessageType, payload), q.options(t)...)
	if err != nil {
		return nil, fmt.Errorf("failed to register cron entry for task %q: %w", t.Name, err)
	}
	return &Job{ID: entryID, Queue: t.QueueName, Task: t, CronExpression: t.CronExpression}, nil
}

func (q *AsynqQueue) ScheduledJobs(ctx context.Context) ([]Job, error) {
	// SchedulerEntries aggregates entries from every scheduler the
	// broker knows about, including one whose process died uncleanly,
	// until that scheduler's heartbeat expires. The inspector API
	// exposes no per-entry liveness to filter on.
	entries, err := q.inspector.SchedulerEntries()
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduler entries: %w", err)
	}
	jobs := make([]Job, 0, len(entries))
	for _, entry := range entries {
		if entry.Task.Type() != MessageType {
			continue
		}
		t, err := DecodeTask(entry.Task.Payload())
		if err != nil {
			log.Printf("queue: skipping scheduler entry %s with undecodable payload: %v", entry.ID, err)
			continue
		}
		jobs = append(jobs, Job{
			ID:             entry.ID,
			Queue:          t.QueueName,
			Task:           t,
			CronExpression: entry.Spec,
			NextRun:        entry.Next,
		})
	}
	return jobs, nil
}

func (q *AsynqQueue) QueuedJobs(ctx context.Context, queueNames []string) ([]Job, error) {
	if len(queueNames) == 0 {
		queueNames = q.queueNames
	}
	var jobs []Job
	for _, queueName := range queueNames {
		infos, err := q.inspector.ListPendingTasks(queueName, asynq.PageSize(listPageSize))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue // queue has never seen a job yet
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list pending jobs on %q: %w", queueName, err)
		}
		for _, info := range infos {
			if info.Type != MessageType {
				continue
			}
			t, err := DecodeTask(info.Payload)
			if err != nil {
				log.Printf("queue: skipping pending job %s with undecodable payload: %v", info.ID, err)
				continue
			}
			jobs = append(jobs, Job{ID: info.ID, Queue: info.Queue, Task: t})
		}
	}
	return jobs, nil
}

func (q *AsynqQueue) FailedJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	for _, queueName := range q.queueNames {
		infos, err := q.inspector.ListArchivedTasks(queueName, asynq.PageSize(listPageSize))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list archived jobs on %q: %w", queueName, err)
		}
		for _, info := range infos {
			if info.Type != MessageType {
				continue
			}
			t, err := DecodeTask(info.Payload)
			if err != nil {
				// A payload from an old build may no longer decode;
				// one bad entry must not hide the rest of the list.
				log.Printf("queue: skipping archived job %s with undecodable payload: %v", info.ID, err)
				continue
			}
			jobs = append(jobs, Job{ID: info.ID, Queue: info.Queue, Task: t, ErrorMsg: info.LastErr})
		}
	}
	return jobs, nil
}

func (q *AsynqQueue) CancelJob(ctx context.Context, jobID string) error {
	// A job id is either a scheduler entry or a queued task id; try the
	// cheap unregister first.
	if err := q.scheduler.Unregister(jobID); err == nil {
		return nil
	}
	return q.eachQueue(jobID, q.inspector.DeleteTask)
}

func (q *AsynqQueue) DeleteFailedJob(ctx context.Context, jobID string) error {
	return q.eachQueue(jobID, q.inspector.DeleteTask)
}

func (q *AsynqQueue) RequeueFailedJob(ctx context.Context, jobID string) error {
	return q.eachQueue(jobID, q.inspector.RunTask)
}

// eachQueue applies a per-queue inspector operation to the first queue
// holding the job id.
func (q *AsynqQueue) eachQueue(jobID string, op func(queueName, id string) error) error {
	for _, queueName := range q.queueNames {
		err := op(queueName, jobID)
		if err == nil {
			return nil
		}
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

// Handler adapts the execution harness to asynq's handler contract.
// Returning the harness error unchanged keeps asynq's retry and archive
// bookkeeping accurate.
func Handler(h *task.Harness) asynq.HandlerFunc {
	return func(ctx context.Context, msg *asynq.Task) error {
		t, err := DecodeTask(msg.Payload())
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return h.Run(ctx, t)
	}
}
