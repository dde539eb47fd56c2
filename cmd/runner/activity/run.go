package activity

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/lemline/lemline/cmd/runner/dsl"
	"github.com/lemline/lemline/common/logger"
)

// ProcessRunner executes run: script and run: shell activities
type ProcessRunner struct {
	log *logger.Logger
}

func NewProcessRunner(log *logger.Logger) *ProcessRunner {
	return &ProcessRunner{log: log}
}

// Run spawns the configured process and shapes its result
func (r *ProcessRunner) Run(ctx context.Context, req *Request) (any, *dsl.Error) {
	run := req.Task.Run
	if run == nil {
		return nil, dsl.NewConfigurationError("run task has no process configuration")
	}

	var name string
	var args []string
	var derr *dsl.Error

	switch {
	case run.Script != nil:
		name, args, derr = scriptCommand(req, run.Script)
	case run.Shell != nil:
		name, args, derr = shellCommand(req, run.Shell)
	case run.Container != nil:
		return nil, dsl.NewConfigurationError("container execution is not supported")
	case run.Workflow != nil:
		return nil, dsl.NewConfigurationError("subworkflow execution is not supported")
	default:
		return nil, dsl.NewConfigurationError("run task requires a script or shell process")
	}
	if derr != nil {
		return nil, derr
	}

	cmd := exec.CommandContext(ctx, name, args...)

	if !run.ShouldAwait() {
		if err := cmd.Start(); err != nil {
			return nil, dsl.NewCommunicationError(0, fmt.Sprintf("failed to start process: %v", err))
		}
		go func() { _ = cmd.Wait() }()
		return req.Input, nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, dsl.NewCommunicationError(0, fmt.Sprintf("failed to run process: %v", err))
		}
		code = exitErr.ExitCode()
	}
	if code != 0 {
		return nil, dsl.NewCommunicationError(0,
			fmt.Sprintf("process exited with code %d: %s", code, stderr.String()))
	}

	switch req.Task.Run.ReturnMode() {
	case "stderr":
		return stderr.String(), nil
	case "code":
		return code, nil
	case "all":
		return map[string]any{
			"code":   code,
			"stdout": stdout.String(),
			"stderr": stderr.String(),
		}, nil
	case "none":
		return nil, nil
	default: // stdout
		return stdout.String(), nil
	}
}

func scriptCommand(req *Request, script *dsl.ScriptSpec) (string, []string, *dsl.Error) {
	if script.Code == "" {
		return "", nil, dsl.NewConfigurationError("script requires inline code")
	}
	code, derr := evalToString(req, script.Code)
	if derr != nil {
		return "", nil, derr
	}

	extra, derr := stringMap(req, script.Arguments)
	if derr != nil {
		return "", nil, derr
	}

	var name string
	var args []string
	switch script.Language {
	case "python":
		name, args = "python3", []string{"-c", code}
	case "js", "javascript":
		name, args = "node", []string{"-e", code}
	case "", "shell":
		name, args = "sh", []string{"-c", code}
	default:
		return "", nil, dsl.NewConfigurationError(fmt.Sprintf("unsupported script language %q", script.Language))
	}

	for _, value := range extra {
		args = append(args, value)
	}
	return name, args, nil
}

func shellCommand(req *Request, shell *dsl.ShellSpec) (string, []string, *dsl.Error) {
	if shell.Command == "" {
		return "", nil, dsl.NewConfigurationError("shell requires a command")
	}
	command, derr := evalToString(req, shell.Command)
	if derr != nil {
		return "", nil, derr
	}

	extra, derr := stringMap(req, shell.Arguments)
	if derr != nil {
		return "", nil, derr
	}
	for _, value := range extra {
		command += " " + value
	}

	return "sh", []string{"-c", command}, nil
}

func evalToString(req *Request, raw string) (string, *dsl.Error) {
	result, derr := req.Eval.EvalString(req.Input, raw, req.Scope, false)
	if derr != nil {
		return "", derr
	}
	s, ok := result.(string)
	if !ok {
		return "", dsl.NewExpressionError(raw, fmt.Sprintf("expected string result, got %T", result))
	}
	return s, nil
}
