package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"

	"task-scheduler-service/internal/task"
)

const ShellTaskType = "shell_command"

const shellParamSchema = `{
	"type": "object",
	"properties": {
		"command": {"type": "string"},
		"args": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["command"]
}`

type shellParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

type shellReport struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ShellCommand runs an external command and records its output. A
// non-zero exit is a task failure so the run shows up as an exception
// and in the queue's dead-letter list.
type ShellCommand struct{}

func (ShellCommand) Name() string { return "shell_command" }
func (ShellCommand) Description() string {
	return "Runs an external command and records exit code and output."
}
func (ShellCommand) TaskType() string    { return ShellTaskType }
func (ShellCommand) DefaultCron() string { return "" }
func (ShellCommand) ParamSchema() string { return shellParamSchema }

func (ShellCommand) NewTask() *task.Task {
	return task.New("shell_command", ShellTaskType)
}

func (ShellCommand) Runner() task.RunnerFunc {
	return func(ctx context.Context, t *task.Task) (any, error) {
		var params shellParams
		if err := json.Unmarshal(t.Params, &params); err != nil {
			return nil, fmt.Errorf("bad shell params: %w", err)
		}
		if params.Command == "" {
			return nil, fmt.Errorf("shell task %q has an empty command", t.Name)
		}

		log.Printf("shell task %q: running %s %v", t.Name, params.Command, params.Args)
		cmd := exec.CommandContext(ctx, params.Command, params.Args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		runErr := cmd.Run()

		report := shellReport{
			Command: params.Command,
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
		}
		if cmd.ProcessState != nil {
			report.ExitCode = cmd.ProcessState.ExitCode()
		}
		blob, err := json.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("failed to encode shell report: %w", err)
		}

		if runErr != nil {
			return nil, fmt.Errorf("command %q failed (exit %d): %w. Stderr: %s",
				params.Command, report.ExitCode, runErr, stderr.String())
		}
		return &task.Result{
			ReturnValue: fmt.Sprintf("%s exited 0", params.Command),
			JSONBlob:    string(blob),
		}, nil
	}
}
