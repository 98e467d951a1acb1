// Package plugin defines installable task components and the manifest
// grouping them. Components are declared explicitly in main; nothing is
// discovered by scanning loaded code.
package plugin

import (
	"fmt"

	"task-scheduler-service/internal/task"
)

// Component describes one installable task type: display metadata, a
// parameter schema for the submission surface, a default cron schedule
// for startup seeding, and the runner executing it. Metadata and
// behavior are composed on one concrete type rather than inherited.
type Component interface {
	// Name is the human-readable task name used for scheduling and
	// de-duplication.
	Name() string

	// Description explains what the component does, for the operator UI.
	Description() string

	// TaskType is the registry key tying tasks to this component's
	// runner.
	TaskType() string

	// DefaultCron returns the 5-field cron default for startup seeding,
	// or "" when the component should not be seeded automatically.
	DefaultCron() string

	// ParamSchema returns a JSON schema describing the task params, or
	// "" when the component takes none. Submissions are validated
	// against it.
	ParamSchema() string

	// Runner executes tasks of this component's type.
	Runner() task.RunnerFunc

	// NewTask builds a task configured with the component's defaults.
	NewTask() *task.Task
}

// Manifest is the explicit list of components installed in a process.
type Manifest struct {
	components []Component
	byType     map[string]Component
}

// NewManifest assembles a manifest, rejecting duplicate task types.
func NewManifest(components ...Component) (*Manifest, error) {
	m := &Manifest{byType: make(map[string]Component, len(components))}
	for _, c := range components {
		if _, dup := m.byType[c.TaskType()]; dup {
			return nil, fmt.Errorf("duplicate component for task type %q", c.TaskType())
		}
		m.byType[c.TaskType()] = c
		m.components = append(m.components, c)
	}
	return m, nil
}

// Components returns the installed components in declaration order.
func (m *Manifest) Components() []Component {
	return m.components
}

// Lookup resolves a component by task type.
func (m *Manifest) Lookup(taskType string) (Component, bool) {
	c, ok := m.byType[taskType]
	return c, ok
}

// BuildRegistry produces a runner registry covering every component.
func (m *Manifest) BuildRegistry() (*task.Registry, error) {
	registry := task.NewRegistry()
	for _, c := range m.components {
		if err := registry.Register(c.TaskType(), c.Runner()); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// SeedTasks builds the recurring tasks to register at startup: one per
// component that declares a cron default.
func (m *Manifest) SeedTasks() []*task.Task {
	var tasks []*task.Task
	for _, c := range m.components {
		if c.DefaultCron() == "" {
			continue
		}
		tasks = append(tasks, c.NewTask())
	}
	return tasks
}
