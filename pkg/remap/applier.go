package remap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultPath is the stock location of hidutil.
	DefaultPath = "/usr/bin/hidutil"
	// DefaultTimeout bounds one invocation so a hung utility cannot stall the agent.
	DefaultTimeout = 10 * time.Second
)

// Options configure the applier.
type Options struct {
	Path    string
	Timeout time.Duration
	Runner  Runner
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Applier synchronously drives the utility to a requested payload.
type Applier struct {
	path    string
	timeout time.Duration
	runner  Runner
	clock   clockwork.Clock
	logger  *slog.Logger
}

// NewApplier validates options and constructs an applier.
func NewApplier(opts Options) (*Applier, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = DefaultPath
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("utility path %q must be absolute", path)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout < 0 {
		return nil, errors.New("timeout must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Applier{
		path:    path,
		timeout: timeout,
		runner:  runner,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Path reports the utility location.
func (a *Applier) Path() string {
	return a.path
}

// Apply stores payload through the utility and blocks until it exits. It never
// retries; the caller decides what a failure means.
func (a *Applier) Apply(ctx context.Context, payload Payload) error {
	if ctx == nil {
		ctx = context.Background()
	}
	started := a.clock.Now()
	res, err := a.run(ctx, payload.SetArgs()...)
	elapsed := a.clock.Since(started)
	if err != nil {
		a.logger.DebugContext(ctx, "remap utility failed", "payload", payload.Kind(), "duration", elapsed, "error_class", Class(err))
		return err
	}
	a.logger.DebugContext(ctx, "remap utility finished", "payload", payload.Kind(), "duration", elapsed, "exit_code", res.ExitCode)
	return nil
}

// run launches the utility under the bounded wait and classifies the outcome.
func (a *Applier) run(ctx context.Context, args ...string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.runner.Run(runCtx, a.path, args...)
	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, &timeoutError{after: a.timeout}
	}
	if err != nil {
		return res, &LaunchError{Path: a.path, Err: err}
	}
	if res.ExitCode != 0 {
		return res, &ExitError{Code: res.ExitCode, Output: trimOutput(res.Output)}
	}
	return res, nil
}
