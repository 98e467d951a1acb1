// Package task defines the unit of work handled by the scheduler: a
// plain data record describing what to run, a registry resolving the
// record's type to a runner function, and the harness enforcing the
// pre-call / main-call / post-call execution contract.
package task

import (
	"encoding/json"
	"time"
)

// CopySuffix is appended to a task name by Clone when no suffix is
// given.
const CopySuffix = "_copy"

// Task is the serializable configuration for one unit of work. It
// travels through the job queue as JSON; runnable behavior lives in the
// registry under Type, never in the payload itself.
type Task struct {
	// Name is the human-readable identifier. It is not globally unique
	// but it is the de-duplication key for recurring registration.
	Name string `json:"name"`

	// Type selects the runner in the registry.
	Type string `json:"type"`

	// QueueName is the logical destination queue. The dispatcher fills
	// in the configured default when empty.
	QueueName string `json:"queue_name,omitempty"`

	// Timeout is handed to the queue backend's job timeout; zero means
	// the backend default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// CronExpression holds 5-field cron syntax. Its presence is what
	// makes a task recurring rather than run-once.
	CronExpression string `json:"cron_expression,omitempty"`

	// Template names the rendering template the UI should use for this
	// task's results.
	Template string `json:"template,omitempty"`

	// Params carries task-type-specific configuration, opaque to the
	// scheduling core.
	Params json.RawMessage `json:"params,omitempty"`

	// RunRecordID correlates one execution with its run-record entry.
	// It is set exactly once, by the harness pre-call.
	RunRecordID string `json:"run_record_id,omitempty"`
}

// New builds a task of the given name and registry type.
func New(name, taskType string) *Task {
	return &Task{Name: name, Type: taskType}
}

// Clone deep-copies the task, appends suffix to the name and clears the
// run-record correlation. Callers rely on the clone being launchable as
// a brand-new execution, so no run state may carry over. User-facing
// copies pass CopySuffix; an empty suffix keeps the name, for backends
// that need a fresh execution copy per trigger.
func (t *Task) Clone(suffix string) *Task {
	dup := *t
	dup.Name = t.Name + suffix
	dup.RunRecordID = ""
	if t.Params != nil {
		dup.Params = append(json.RawMessage(nil), t.Params...)
	}
	return &dup
}
