// Package api exposes the scheduling and run-history surfaces over
// HTTP. Handlers translate between wire payloads and the dispatcher /
// run-record store; they hold no scheduling logic of their own.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"task-scheduler-service/internal/plugin"
	"task-scheduler-service/internal/queue"
	"task-scheduler-service/internal/rundb"
	"task-scheduler-service/internal/scheduler"
	"task-scheduler-service/pkg/validation"
)

// RunHandler serves the run-history endpoints.
type RunHandler struct {
	Store rundb.Store
}

func NewRunHandler(store rundb.Store) *RunHandler {
	return &RunHandler{Store: store}
}

// GetRuns lists run records filtered by status and an inclusive start
// time window, newest first. Query params: status, start_utc, end_utc,
// limit.
func (h *RunHandler) GetRuns(ctx context.Context, c *app.RequestContext) {
	status := rundb.StatusAny
	if s := c.Query("status"); s != "" {
		status = rundb.Status(s)
	}
	records, err := h.Store.GetTasks(status, c.Query("start_utc"), c.Query("end_utc"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch run records: " + err.Error()})
		return
	}
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid limit: " + limitStr})
			return
		}
		limit = parsed
	}
	c.JSON(http.StatusOK, rundb.LimitTaskCount(records, limit))
}

// GetRunByID returns one run record.
func (h *RunHandler) GetRunByID(ctx context.Context, c *app.RequestContext) {
	record, err := h.Store.GetTask(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch run record: " + err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, utils.H{"error": "Run record not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetLatestRun returns the most recent record for a task name.
func (h *RunHandler) GetLatestRun(ctx context.Context, c *app.RequestContext) {
	name := c.Query("task_name")
	if name == "" {
		c.JSON(http.StatusBadRequest, utils.H{"error": "task_name query parameter is required"})
		return
	}
	record, err := h.Store.GetLatest(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch latest run: " + err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, utils.H{"error": "No runs recorded for task " + name})
		return
	}
	c.JSON(http.StatusOK, record)
}

// DeleteRun removes a run record. Deleting an id that is already gone
// succeeds, so the endpoint is safe to retry.
func (h *RunHandler) DeleteRun(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := h.Store.DeleteTask(id); err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to delete run record: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{"deleted": id})
}

// ScheduleHandler serves the job-management endpoints.
type ScheduleHandler struct {
	Scheduler *scheduler.Scheduler
	Manifest  *plugin.Manifest
	// QueueNames restricts which queues the pending-job listing may
	// inspect.
	QueueNames []string
}

func NewScheduleHandler(s *scheduler.Scheduler, m *plugin.Manifest, queueNames []string) *ScheduleHandler {
	return &ScheduleHandler{Scheduler: s, Manifest: m, QueueNames: queueNames}
}

type SubmitTaskRequest struct {
	Name           string `json:"name" validate:"required"`
	TaskType       string `json:"task_type" validate:"required"`
	QueueName      string `json:"queue_name"`
	CronExpression string `json:"cron_expression"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Template       string `json:"template"`
	Params         string `json:"params"`
	Manager        string `json:"manager"`
}

// SubmitTask registers a new task through the requested manager. Params
// are validated against the component's schema before anything reaches
// the queue.
func (h *ScheduleHandler) SubmitTask(ctx context.Context, c *app.RequestContext) {
	var req SubmitTaskRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	component, ok := h.Manifest.Lookup(req.TaskType)
	if !ok {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Unknown task type: " + req.TaskType})
		return
	}
	if schema := component.ParamSchema(); schema != "" {
		if err := validation.ValidateJSONWithSchema(schema, req.Params); err != nil {
			log.Printf("api: params validation failed for task type %q: %v", req.TaskType, err)
			c.JSON(http.StatusBadRequest, utils.H{
				"error":             "Task parameters do not match the component schema.",
				"validation_errors": err.Error(),
			})
			return
		}
	}

	t := component.NewTask()
	t.Name = req.Name
	if req.QueueName != "" {
		t.QueueName = req.QueueName
	}
	if req.CronExpression != "" {
		t.CronExpression = req.CronExpression
	}
	if req.TimeoutSeconds > 0 {
		t.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if req.Template != "" {
		t.Template = req.Template
	}
	if req.Params != "" {
		t.Params = []byte(req.Params)
	}

	manager := scheduler.ManagerQueue
	if req.Manager != "" {
		manager = scheduler.Manager(req.Manager)
	}
	job, err := h.Scheduler.AddToSchedule(ctx, t, manager)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrNoSchedulingMethod) {
			status = http.StatusBadRequest
		}
		c.JSON(status, utils.H{"error": "Failed to schedule task: " + err.Error()})
		return
	}
	if job == nil {
		// Instant runs complete before the response is written.
		c.JSON(http.StatusOK, utils.H{"task": t, "run_record_id": t.RunRecordID})
		return
	}
	c.JSON(http.StatusCreated, job)
}

// LaunchNow enqueues a one-off run of a task submitted in the request
// body. Its cron expression, if any, is ignored.
func (h *ScheduleHandler) LaunchNow(ctx context.Context, c *app.RequestContext) {
	var req SubmitTaskRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	component, ok := h.Manifest.Lookup(req.TaskType)
	if !ok {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Unknown task type: " + req.TaskType})
		return
	}
	if schema := component.ParamSchema(); schema != "" {
		if err := validation.ValidateJSONWithSchema(schema, req.Params); err != nil {
			c.JSON(http.StatusBadRequest, utils.H{
				"error":             "Task parameters do not match the component schema.",
				"validation_errors": err.Error(),
			})
			return
		}
	}
	t := component.NewTask()
	t.Name = req.Name
	if req.QueueName != "" {
		t.QueueName = req.QueueName
	}
	if req.TimeoutSeconds > 0 {
		t.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if req.Params != "" {
		t.Params = []byte(req.Params)
	}
	job, err := h.Scheduler.LaunchRawTask(ctx, t)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to launch task: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, job)
}

// GetScheduledJobs lists recurring registrations.
func (h *ScheduleHandler) GetScheduledJobs(ctx context.Context, c *app.RequestContext) {
	jobs, err := h.Scheduler.GetScheduledJobs(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to list scheduled jobs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// GetQueuedJobs lists pending one-off jobs on the configured queues.
func (h *ScheduleHandler) GetQueuedJobs(ctx context.Context, c *app.RequestContext) {
	jobs, err := h.Scheduler.GetQueuedJobs(ctx, h.QueueNames)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to list queued jobs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// GetFailedJobs lists the dead-letter queue.
func (h *ScheduleHandler) GetFailedJobs(ctx context.Context, c *app.RequestContext) {
	jobs, err := h.Scheduler.GetFailedJobs(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to list failed jobs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// LaunchJob triggers an ad-hoc run of an existing scheduled job.
func (h *ScheduleHandler) LaunchJob(ctx context.Context, c *app.RequestContext) {
	job, err := h.Scheduler.LaunchJob(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to launch job: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, job)
}

// CancelJob removes a scheduled or queued job.
func (h *ScheduleHandler) CancelJob(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := h.Scheduler.CancelJob(ctx, id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to cancel job: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{"cancelled": id})
}

// CleanupJob drops an entry from the dead-letter queue.
func (h *ScheduleHandler) CleanupJob(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := h.Scheduler.CleanupJob(ctx, id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to clean up job: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{"cleaned": id})
}

// RequeueJob moves a dead-letter entry back onto its queue.
func (h *ScheduleHandler) RequeueJob(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := h.Scheduler.RequeueJob(ctx, id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to requeue job: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{"requeued": id})
}

type componentInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TaskType    string `json:"task_type"`
	DefaultCron string `json:"default_cron,omitempty"`
	ParamSchema string `json:"param_schema,omitempty"`
}

// GetComponents lists the installed task components.
func (h *ScheduleHandler) GetComponents(ctx context.Context, c *app.RequestContext) {
	components := h.Manifest.Components()
	infos := make([]componentInfo, 0, len(components))
	for _, component := range components {
		infos = append(infos, componentInfo{
			Name:        component.Name(),
			Description: component.Description(),
			TaskType:    component.TaskType(),
			DefaultCron: component.DefaultCron(),
			ParamSchema: component.ParamSchema(),
		})
	}
	c.JSON(http.StatusOK, infos)
}
