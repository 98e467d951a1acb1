package scheduler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-scheduler-service/internal/queue"
	"task-scheduler-service/internal/rundb"
	"task-scheduler-service/internal/task"
)

// fakeQueue tracks submissions in memory so dispatcher behavior can be
// checked without a broker.
type fakeQueue struct {
	nextID    int
	enqueued  []queue.Job
	scheduled []queue.Job
	failed    []queue.Job
	cancelled []string
}

func (q *fakeQueue) id() string {
	q.nextID++
	return fmt.Sprintf("job-%d", q.nextID)
}

func (q *fakeQueue) Enqueue(ctx context.Context, t *task.Task) (*queue.Job, error) {
	job := queue.Job{ID: q.id(), Queue: t.QueueName, Task: t}
	q.enqueued = append(q.enqueued, job)
	return &job, nil
}

func (q *fakeQueue) InstallCron(ctx context.Context, t *task.Task) (*queue.Job, error) {
	job := queue.Job{ID: q.id(), Queue: t.QueueName, Task: t, CronExpression: t.CronExpression}
	q.scheduled = append(q.scheduled, job)
	return &job, nil
}

func (q *fakeQueue) ScheduledJobs(ctx context.Context) ([]queue.Job, error) {
	return append([]queue.Job(nil), q.scheduled...), nil
}

func (q *fakeQueue) QueuedJobs(ctx context.Context, queueNames []string) ([]queue.Job, error) {
	return append([]queue.Job(nil), q.enqueued...), nil
}

func (q *fakeQueue) FailedJobs(ctx context.Context) ([]queue.Job, error) {
	return append([]queue.Job(nil), q.failed...), nil
}

func (q *fakeQueue) CancelJob(ctx context.Context, jobID string) error {
	q.cancelled = append(q.cancelled, jobID)
	return nil
}

func (q *fakeQueue) DeleteFailedJob(ctx context.Context, jobID string) error { return nil }

func (q *fakeQueue) RequeueFailedJob(ctx context.Context, jobID string) error { return nil }

func (q *fakeQueue) Close() error { return nil }

// noopStore satisfies rundb.Store for instant runs.
type noopStore struct{}

func (noopStore) RecordTaskStart(taskName, template string) (string, error) { return "1", nil }
func (noopStore) RecordTaskFinish(string, string, rundb.Status, string, []byte) error {
	return nil
}
func (noopStore) DeleteTask(string) error                                { return nil }
func (noopStore) GetTask(string) (*rundb.Record, error)                  { return nil, nil }
func (noopStore) GetLatest(string) (*rundb.Record, error)                { return nil, nil }
func (noopStore) GetTasks(rundb.Status, string, string) ([]rundb.Record, error) {
	return nil, nil
}
func (noopStore) Close() error { return nil }

func newDispatcher(t *testing.T, q queue.Queue) *Scheduler {
	registry := task.NewRegistry()
	require.NoError(t, registry.Register("echo", func(ctx context.Context, tk *task.Task) (any, error) {
		return "ok", nil
	}))
	harness := task.NewHarness(registry, func() (rundb.Store, error) { return noopStore{}, nil }, nil)
	return New(q, harness, []string{"default", "priority"})
}

func TestAddToScheduleQueueManagerInstallsCron(t *testing.T) {
	q := &fakeQueue{}
	s := newDispatcher(t, q)

	tk := task.New("nightly_build", "echo")
	tk.CronExpression = "0 2 * * *"

	job, err := s.AddToSchedule(context.Background(), tk, ManagerQueue)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "0 2 * * *", job.CronExpression)
	assert.Equal(t, "default", tk.QueueName)
	require.Len(t, q.scheduled, 1)
}

func TestAddToScheduleRequiresCronForQueueManager(t *testing.T) {
	q := &fakeQueue{}
	s := newDispatcher(t, q)

	_, err := s.AddToSchedule(context.Background(), task.New("nightly_build", "echo"), ManagerQueue)
	assert.ErrorIs(t, err, ErrNoSchedulingMethod)
}

func TestAddToScheduleRejectsBadCronAndUnknownManager(t *testing.T) {
	q := &fakeQueue{}
	s := newDispatcher(t, q)

	tk := task.New("nightly_build", "echo")
	tk.CronExpression = "not a cron"
	_, err := s.AddToSchedule(context.Background(), tk, ManagerQueue)
	require.Error(t, err)
	assert.Empty(t, q.scheduled)

	tk2 := task.New("nightly_build", "echo")
	_, err = s.AddToSchedule(context.Background(), tk2, Manager("teleport"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown manager")
}

func TestAddToScheduleInstantRunsSynchronously(t *testing.T) {
	q := &fakeQueue{}
	s := newDispatcher(t, q)

	tk := task.New("nightly_build", "echo")
	job, err := s.AddToSchedule(context.Background(), tk, ManagerInstant)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Equal(t, "1", tk.RunRecordID)
	assert.Empty(t, q.enqueued)
}

func TestLaunchRawTaskStripsCron(t *testing.T) {
	q := &fakeQueue{}
	s := newDispatcher(t, q)

	tk := task.New("nightly_build", "echo")
	tk.CronExpression = "0 2 * * *"

	job, err := s.LaunchRawTask(context.Background(), tk)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Empty(t, job.Task.CronExpression)
	assert.Equal(t, "nightly_build", job.Task.Name)
	// The caller's task is untouched.
	assert.Equal(t, "0 2 * * *", tk.CronExpression)
}

func TestLaunchJobClonesUnderCopySuffix(t *testing.T) {
	q := &fakeQueue{}
	s := newDispatcher(t, q)

	tk := task.New("nightly_build", "echo")
	tk.CronExpression = "0 2 * * *"
	registered, err := s.AddToSchedule(context.Background(), tk, ManagerQueue)
	require.NoError(t, err)

	job, err := s.LaunchJob(context.Background(), registered.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "nightly_build"+task.CopySuffix, job.Task.Name)
	assert.Empty(t, job.Task.CronExpression)

	// The recurring registration is untouched.
	scheduled, err := s.GetScheduledJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "nightly_build", scheduled[0].Task.Name)
}

func TestLaunchJobUnknownID(t *testing.T) {
	q := &fakeQueue{}
	s := newDispatcher(t, q)

	_, err := s.LaunchJob(context.Background(), "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestAddTaskIfUnscheduledIsIdempotent(t *testing.T) {
	q := &fakeQueue{}
	s := newDispatcher(t, q)

	seed := func() *task.Task {
		tk := task.New("nightly_build", "echo")
		tk.CronExpression = "0 2 * * *"
		return tk
	}

	require.NoError(t, s.AddTaskIfUnscheduled(context.Background(), []*task.Task{seed()}, ManagerQueue))
	require.NoError(t, s.AddTaskIfUnscheduled(context.Background(), []*task.Task{seed()}, ManagerQueue))

	scheduled, err := s.GetScheduledJobs(context.Background())
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)
}

func TestAddToScheduleWithoutDefaultQueue(t *testing.T) {
	q := &fakeQueue{}
	registry := task.NewRegistry()
	harness := task.NewHarness(registry, func() (rundb.Store, error) { return noopStore{}, nil }, nil)
	s := New(q, harness, nil)

	tk := task.New("nightly_build", "echo")
	tk.CronExpression = "0 2 * * *"
	_, err := s.AddToSchedule(context.Background(), tk, ManagerQueue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default is configured")
}
