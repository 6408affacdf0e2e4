package remap

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	child_process_manager "github.com/AgustinSRG/go-child-process-manager"
)

// Result describes a finished utility process.
type Result struct {
	ExitCode int
	Output   []byte
}

// Runner launches the utility and waits for it to exit. A non-nil error means
// the process could not be started or waited on; exit statuses are reported in Result.
type Runner interface {
	Run(ctx context.Context, path string, args ...string) (Result, error)
}

// RunnerFunc adapts a function literal to the Runner interface.
type RunnerFunc func(ctx context.Context, path string, args ...string) (Result, error)

// Run calls the underlying function.
func (f RunnerFunc) Run(ctx context.Context, path string, args ...string) (Result, error) {
	return f(ctx, path, args...)
}

// DefaultWaitDelay bounds how long Run waits for output pipes after the
// utility has been killed.
const DefaultWaitDelay = time.Second

// ExecRunner runs the utility as a real child process. Children are registered
// with the child process manager so they die with the agent.
type ExecRunner struct {
	Logger *slog.Logger
	// WaitDelay defaults to DefaultWaitDelay. A descendant holding the
	// output pipe open cannot stall Run past it.
	WaitDelay time.Duration
}

// Run starts the process, kills it when ctx ends, and collects combined output.
func (r ExecRunner) Run(ctx context.Context, path string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	if err := child_process_manager.ConfigureCommand(cmd); err != nil {
		r.debug(ctx, "unable to configure utility for auto-kill", "error", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, err
	}
	if err := child_process_manager.AddChildProcess(cmd.Process); err != nil {
		r.debug(ctx, "unable to register utility for auto-kill", "error", err)
	}

	err := cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Result{ExitCode: 0, Output: out.Bytes()}, nil
	case errors.As(err, &exitErr):
		return Result{ExitCode: exitErr.ExitCode(), Output: out.Bytes()}, nil
	default:
		return Result{Output: out.Bytes()}, err
	}
}

func (r ExecRunner) debug(ctx context.Context, msg string, args ...any) {
	if r.Logger != nil {
		r.Logger.DebugContext(ctx, msg, args...)
	}
}
