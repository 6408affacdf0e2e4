package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/offlinefirst/capsremap/pkg/agent"
	"github.com/offlinefirst/capsremap/pkg/remap"
	"github.com/offlinefirst/capsremap/pkg/session"
)

func newRunCommand() command {
	return command{
		name:        "run",
		description: "Keep Caps Lock remapped to Escape while the session is unlocked",
		configure: func(fs *pflag.FlagSet) {
			fs.Bool("plan-only", false, "Print the resolved configuration without starting the agent")
			fs.Bool("clear-on-exit", false, "Clear the remap when the agent stops")
		},
		run: runAgent,
	}
}

var (
	newSource = session.NewSource
	newRunner = func(logger *slog.Logger) remap.Runner {
		return remap.ExecRunner{Logger: logger}
	}
	signalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	}
)

func runAgent(fs *pflag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}

	planOnly, _ := fs.GetBool("plan-only")
	ctx.Logger.Info("run command invoked", "plan_only", planOnly, "config_source", ctx.Config.Source)

	if planOnly {
		return printRunPlan(ctx, stdout)
	}

	applier, err := newApplier(ctx)
	if err != nil {
		return err
	}

	names := session.Names{
		Activation:   ctx.Config.Notifications.Activation,
		Deactivation: ctx.Config.Notifications.Deactivation,
	}
	listener, err := agent.New(agent.Options{
		Names:       names,
		Applier:     applier,
		Source:      newSource(),
		Logger:      ctx.Logger,
		QueueSize:   ctx.Config.Agent.QueueSize,
		ClearOnExit: ctx.Config.Agent.ClearOnExit,
	})
	if err != nil {
		return fmt.Errorf("create listener: %w", err)
	}

	runCtx, stop := signalContext(context.Background())
	defer stop()

	env := session.DetectEnvironment()
	ctx.Logger.Info("agent starting",
		"provider", env.Provider,
		"hidutil", applier.Path(),
		"notifications", len(names.All()),
		"clear_on_exit", ctx.Config.Agent.ClearOnExit,
	)

	err = listener.Start(runCtx)
	stats := listener.Stats()
	ctx.Logger.Info("agent stopped",
		"applies", stats.Applies,
		"clears", stats.Clears,
		"failures", stats.Failures,
		"ignored", stats.Ignored,
		"dropped", stats.Dropped,
	)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printRunPlan(ctx *AppContext, stdout io.Writer) error {
	data, err := ctx.Config.YAML()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Resolved configuration (source: %s)\n", ctx.Config.Source)
	_, err = stdout.Write(data)
	return err
}
