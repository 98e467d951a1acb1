// Package builtin ships the components installed by default: a trivial
// echo task and a shell-command task.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"task-scheduler-service/internal/task"
)

const EchoTaskType = "echo"

const echoParamSchema = `{
	"type": "object",
	"properties": {
		"message": {"type": "string"}
	},
	"required": ["message"]
}`

type echoParams struct {
	Message string `json:"message"`
}

// Echo is a component that reflects its message parameter back as the
// task result. Useful for verifying queue and run-DB wiring end to end.
type Echo struct{}

func (Echo) Name() string        { return "echo" }
func (Echo) Description() string { return "Echoes its message parameter back as the task result." }
func (Echo) TaskType() string    { return EchoTaskType }
func (Echo) DefaultCron() string { return "" }
func (Echo) ParamSchema() string { return echoParamSchema }

func (Echo) NewTask() *task.Task {
	return task.New("echo", EchoTaskType)
}

func (Echo) Runner() task.RunnerFunc {
	return func(ctx context.Context, t *task.Task) (any, error) {
		var params echoParams
		if err := json.Unmarshal(t.Params, &params); err != nil {
			return nil, fmt.Errorf("bad echo params: %w", err)
		}
		log.Printf("echo task %q: %s", t.Name, params.Message)
		return &task.Result{
			ReturnValue: "echo: " + params.Message,
			JSONBlob:    string(t.Params),
		}, nil
	}
}
