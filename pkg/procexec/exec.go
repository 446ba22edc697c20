// Package procexec runs external commands with captured output, the way
// every tokei collaborator process (adapter, renderer, exporters) is run.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"
)

// Params describes one command invocation.
type Params struct {
	// Command is the program followed by its arguments.
	Command []string

	// WorkDir is the working directory. Empty means the current one.
	WorkDir string

	// Env is added on top of the parent environment.
	Env map[string]string

	// Timeout bounds the run. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ErrTimeout is returned when Params.Timeout elapses.
var ErrTimeout = errors.New("command timed out")

// Run executes the command and waits for it. A non-zero exit is not an
// error; it is reported in Result.ExitCode. An error means the command
// could not be started or was cut short by ctx or the timeout.
func Run(ctx context.Context, params Params) (*Result, error) {
	if len(params.Command) == 0 || params.Command[0] == "" {
		return nil, fmt.Errorf("command is required")
	}

	runCtx := ctx
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, params.Command[0], params.Command[1:]...)
	if params.WorkDir != "" {
		cmd.Dir = params.WorkDir
	}
	if len(params.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(params.Env)...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runCtx.Err() != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%s: %w after %s", params.Command[0], ErrTimeout, params.Timeout)
		}
		return result, fmt.Errorf("%s: %w", params.Command[0], runCtx.Err())
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute %s: %w", params.Command[0], err)
	}
	return result, nil
}

// envList renders env as KEY=VALUE pairs in a stable order.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
