package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-scheduler-service/internal/task"
)

type stubComponent struct {
	name     string
	taskType string
	cron     string
}

func (c stubComponent) Name() string        { return c.name }
func (c stubComponent) Description() string { return "stub" }
func (c stubComponent) TaskType() string    { return c.taskType }
func (c stubComponent) DefaultCron() string { return c.cron }
func (c stubComponent) ParamSchema() string { return "" }

func (c stubComponent) Runner() task.RunnerFunc {
	return func(ctx context.Context, t *task.Task) (any, error) { return "ok", nil }
}

func (c stubComponent) NewTask() *task.Task {
	t := task.New(c.name, c.taskType)
	t.CronExpression = c.cron
	return t
}

func TestNewManifestRejectsDuplicateTaskTypes(t *testing.T) {
	_, err := NewManifest(
		stubComponent{name: "a", taskType: "same"},
		stubComponent{name: "b", taskType: "same"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate component for task type "same"`)
}

func TestManifestLookupAndRegistry(t *testing.T) {
	m, err := NewManifest(
		stubComponent{name: "a", taskType: "type_a"},
		stubComponent{name: "b", taskType: "type_b"},
	)
	require.NoError(t, err)

	c, ok := m.Lookup("type_b")
	require.True(t, ok)
	assert.Equal(t, "b", c.Name())

	_, ok = m.Lookup("missing")
	assert.False(t, ok)

	registry, err := m.BuildRegistry()
	require.NoError(t, err)
	_, err = registry.Resolve("type_a")
	assert.NoError(t, err)
	_, err = registry.Resolve("missing")
	assert.Error(t, err)
}

func TestManifestSeedTasksOnlyWithCron(t *testing.T) {
	m, err := NewManifest(
		stubComponent{name: "recurring", taskType: "type_a", cron: "0 2 * * *"},
		stubComponent{name: "on_demand", taskType: "type_b"},
	)
	require.NoError(t, err)

	seeds := m.SeedTasks()
	require.Len(t, seeds, 1)
	assert.Equal(t, "recurring", seeds[0].Name)
	assert.Equal(t, "0 2 * * *", seeds[0].CronExpression)
}
