package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/offlinefirst/capsremap/pkg/diagnostics"
)

var runDiagnostics = diagnostics.Run

func newDoctorCommand() command {
	return command{
		name:        "doctor",
		description: "Check whether the agent can run on this machine",
		run:         runDoctor,
	}
}

func runDoctor(fs *pflag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}

	opts := diagnostics.Options{UtilityPath: ctx.Config.Utility.Path}
	if la, err := newLaunchAgent(ctx, ""); err == nil {
		opts.LaunchAgent = la
	} else {
		ctx.Logger.Debug("launch agent unavailable for diagnostics", "error", err)
	}

	runCtx, stop := signalContext(context.Background())
	defer stop()

	report, err := runDiagnostics(runCtx, opts)
	for _, c := range report.Checks {
		fmt.Fprintf(stdout, "%-5s %-13s %s\n", strings.ToUpper(string(c.Status)), c.Name, c.Message)
		if c.Guidance != "" {
			fmt.Fprintf(stdout, "      %-13s hint: %s\n", "", c.Guidance)
		}
	}
	if err != nil {
		return fmt.Errorf("doctor found %d problem(s): %w", len(report.Failed()), err)
	}
	fmt.Fprintln(stdout, "All checks passed")
	return nil
}
