package remap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLaunchFailed indicates the utility could not be started.
	ErrLaunchFailed = errors.New("remap utility could not be started")
	// ErrNonZeroExit indicates the utility ran and reported failure.
	ErrNonZeroExit = errors.New("remap utility exited with non-zero status")
	// ErrTimeout indicates the utility did not exit within the bounded wait.
	ErrTimeout = errors.New("remap utility timed out")
)

// LaunchError wraps the reason the utility could not be started.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunchFailed
}

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Output)
}

func (e *ExitError) Is(target error) bool {
	return target == ErrNonZeroExit
}

type timeoutError struct {
	after time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("%s after %s", ErrTimeout, e.after)
}

func (e *timeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

// Class returns a short label for log records.
func Class(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrLaunchFailed):
		return "launch_failed"
	case errors.Is(err, ErrNonZeroExit):
		return "non_zero_exit"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}

func trimOutput(out []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(out))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
