package task

import (
	"context"
	"fmt"
)

// RunnerFunc executes one task. The return value must be a string or a
// (pointer to) Result; the harness rejects anything else.
type RunnerFunc func(ctx context.Context, t *Task) (any, error)

// Registry maps task types to runner functions. It is constructed
// explicitly in main and passed down; there is no package-level
// registration.
type Registry struct {
	runners map[string]RunnerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]RunnerFunc)}
}

// Register binds a task type to its runner. Re-binding an existing type
// is an error; two plugins claiming one type is a wiring bug.
func (r *Registry) Register(taskType string, fn RunnerFunc) error {
	if taskType == "" {
		return fmt.Errorf("task type must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("runner for task type %q must not be nil", taskType)
	}
	if _, exists := r.runners[taskType]; exists {
		return fmt.Errorf("task type %q is already registered", taskType)
	}
	r.runners[taskType] = fn
	return nil
}

// Resolve returns the runner for a task type.
func (r *Registry) Resolve(taskType string) (RunnerFunc, error) {
	fn, ok := r.runners[taskType]
	if !ok {
		return nil, fmt.Errorf("no runner registered for task type %q", taskType)
	}
	return fn, nil
}

// Types lists the registered task types.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	return types
}
