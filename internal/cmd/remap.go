package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/offlinefirst/capsremap/pkg/remap"
)

func newApplyCommand() command {
	return command{
		name:        "apply",
		description: "Apply the Caps Lock to Escape remap once and exit",
		run: func(fs *pflag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
			return applyOnce(ctx, remap.Apply, stdout)
		},
	}
}

func newClearCommand() command {
	return command{
		name:        "clear",
		description: "Clear every user key remap once and exit",
		run: func(fs *pflag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
			return applyOnce(ctx, remap.Clear, stdout)
		},
	}
}

func newStatusCommand() command {
	return command{
		name:        "status",
		description: "Show the key remap currently stored by the HID utility",
		run:         runStatus,
	}
}

func newApplier(ctx *AppContext) (*remap.Applier, error) {
	applier, err := remap.NewApplier(remap.Options{
		Path:    ctx.Config.Utility.Path,
		Timeout: ctx.Config.Utility.Timeout,
		Runner:  newRunner(ctx.Logger),
		Logger:  ctx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create applier: %w", err)
	}
	return applier, nil
}

func applyOnce(ctx *AppContext, payload remap.Payload, stdout io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	applier, err := newApplier(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := signalContext(context.Background())
	defer stop()

	if err := applier.Apply(runCtx, payload); err != nil {
		return fmt.Errorf("%s remap: %w", payload.Kind(), err)
	}
	ctx.Logger.Info("remap stored", "payload", payload.Kind())
	fmt.Fprintf(stdout, "%s: %s\n", payload.Kind(), payload)
	return nil
}

func runStatus(fs *pflag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	applier, err := newApplier(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := signalContext(context.Background())
	defer stop()

	status, err := applier.Query(runCtx)
	if err != nil {
		return fmt.Errorf("query remap: %w", err)
	}

	fmt.Fprintf(stdout, "State: %s\n", status.State)
	for _, m := range status.Mappings {
		fmt.Fprintf(stdout, "  %s -> %s\n", m.Src, m.Dst)
	}
	return nil
}
