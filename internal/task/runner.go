package task

import (
	"context"
	"fmt"
	"log"

	"task-scheduler-service/internal/rundb"
)

// Notifier receives lifecycle events as executions start and finish.
// Implementations must be non-blocking best-effort; a lost event never
// fails the task.
type Notifier interface {
	TaskStarted(taskName, recordID string)
	TaskFinished(taskName, recordID string, status rundb.Status, returnValue string)
}

// Harness runs a task through the full execution contract:
//
//	pre-call (start record) -> main-call (runner) -> post-call (finish record)
//
// post-call runs exactly once even when the runner fails or panics, and
// the original failure is re-raised afterwards so the queue backend's
// own retry and dead-letter bookkeeping still observes it.
type Harness struct {
	registry *Registry

	// openStore provides a fresh store handle per execution; handles
	// are not shared across executions.
	openStore func() (rundb.Store, error)

	notifier Notifier
}

// NewHarness wires a registry and a store opener. notifier may be nil.
func NewHarness(registry *Registry, openStore func() (rundb.Store, error), notifier Notifier) *Harness {
	return &Harness{registry: registry, openStore: openStore, notifier: notifier}
}

// Run executes one task instance end to end.
func (h *Harness) Run(ctx context.Context, t *Task) error {
	store, err := h.openStore()
	if err != nil {
		return fmt.Errorf("failed to open run DB for task %q: %w", t.Name, err)
	}
	defer store.Close()

	if err := h.preCall(t, store); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("task %q panicked; storing exception result: %v", t.Name, r)
			h.finish(t, store, fmt.Sprintf("%v", r), rundb.StatusException)
			panic(r)
		}
	}()

	runner, err := h.registry.Resolve(t.Type)
	if err == nil {
		var raw any
		raw, err = runner(ctx, t)
		if err == nil {
			return h.postCall(t, store, raw, rundb.StatusFinished)
		}
	}

	log.Printf("task %q failed; storing exception result: %v", t.Name, err)
	h.finish(t, store, err.Error(), rundb.StatusException)
	return err
}

// preCall records the start of an execution and pins the record id on
// the task. A task instance that already carries a record id was either
// run twice or built from a stale copy; both are programming errors.
func (h *Harness) preCall(t *Task, store rundb.Store) error {
	if t.RunRecordID != "" {
		panic(fmt.Sprintf("task %q already has run record id %s before pre-call", t.Name, t.RunRecordID))
	}
	id, err := store.RecordTaskStart(t.Name, t.Template)
	if err != nil {
		return fmt.Errorf("failed to record start of task %q: %w", t.Name, err)
	}
	t.RunRecordID = id
	if h.notifier != nil {
		h.notifier.TaskStarted(t.Name, id)
	}
	return nil
}

// postCall normalizes the runner's return value and records the finish.
// A malformed return value is a runner bug and propagates to the caller
// instead of being recorded as a task result.
func (h *Harness) postCall(t *Task, store rundb.Store, raw any, status rundb.Status) error {
	res, err := normalizeResult(raw)
	if err != nil {
		return fmt.Errorf("bad result from task %q: %w", t.Name, err)
	}
	if err := store.RecordTaskFinish(t.RunRecordID, res.ReturnValue, status, res.JSONBlob, res.SecondaryBlob); err != nil {
		return fmt.Errorf("failed to record finish of task %q: %w", t.Name, err)
	}
	if h.notifier != nil {
		h.notifier.TaskFinished(t.Name, t.RunRecordID, status, res.ReturnValue)
	}
	return nil
}

// finish records a failure outcome. Errors here are logged, not
// returned: the original failure must stay the one the queue sees.
func (h *Harness) finish(t *Task, store rundb.Store, returnValue string, status rundb.Status) {
	if err := store.RecordTaskFinish(t.RunRecordID, returnValue, status, "", nil); err != nil {
		log.Printf("task %q: could not record %s outcome: %v", t.Name, status, err)
		return
	}
	if h.notifier != nil {
		h.notifier.TaskFinished(t.Name, t.RunRecordID, status, returnValue)
	}
}
