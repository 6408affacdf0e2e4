package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"

	"github.com/spf13/pflag"

	"github.com/offlinefirst/capsremap/internal/buildinfo"
	"github.com/offlinefirst/capsremap/pkg/config"
	"github.com/offlinefirst/capsremap/pkg/logging"
)

// defaultCommand runs when no subcommand is named, which is how launchd starts the agent.
const defaultCommand = "run"

type command struct {
	name        string
	description string
	configure   func(fs *pflag.FlagSet)
	run         func(fs *pflag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error
	skipInit    bool
}

// AppContext exposes lazily initialised configuration and logging facilities.
type AppContext struct {
	Config config.Config
	Logger *slog.Logger
}

type RootCommand struct {
	commands  map[string]command
	stdout    io.Writer
	stderr    io.Writer
	appCtx    *AppContext
	overrides config.Overrides
}

// NewRootCommand constructs the CLI dispatcher with its subcommands and flag handling.
func NewRootCommand() *RootCommand {
	rc := &RootCommand{
		commands: make(map[string]command),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}

	rc.register(newRunCommand())
	rc.register(newApplyCommand())
	rc.register(newClearCommand())
	rc.register(newStatusCommand())
	rc.register(newDoctorCommand())
	rc.register(newInstallCommand())
	rc.register(newUninstallCommand())
	rc.register(newVersionCommand())

	return rc
}

func (rc *RootCommand) register(cmd command) {
	rc.commands[cmd.name] = cmd
}

// Execute evaluates the supplied arguments, parses global flags, and dispatches to a subcommand.
func (rc *RootCommand) Execute(args []string) error {
	rootFlags := pflag.NewFlagSet("capsremap", pflag.ContinueOnError)
	rootFlags.SetOutput(rc.stderr)
	rootFlags.SetInterspersed(false)
	rootFlags.Usage = func() { rc.printHelp() }

	rootFlags.StringVar(&rc.overrides.LogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootFlags.StringVar(&rc.overrides.LogFormat, "log-format", "", "Override log output format (json, console)")
	rootFlags.StringVar(&rc.overrides.UtilityPath, "hidutil", "", "Path to the HID property utility (default /usr/bin/hidutil)")
	rootFlags.DurationVar(&rc.overrides.Timeout, "timeout", 0, "Bound on a single utility invocation (default 10s)")

	if err := rootFlags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	remaining := rootFlags.Args()
	if len(remaining) == 0 {
		remaining = []string{defaultCommand}
	}

	subcommand, ok := rc.commands[remaining[0]]
	if !ok {
		fmt.Fprintf(rc.stderr, "Unknown command %q\n\n", remaining[0])
		rc.printHelp()
		return fmt.Errorf("unknown command %q", remaining[0])
	}

	fs := pflag.NewFlagSet(subcommand.name, pflag.ContinueOnError)
	fs.SetOutput(rc.stderr)
	fs.Usage = func() {
		fmt.Fprintf(rc.stdout, "Usage: capsremap %s [flags]\n", subcommand.name)
		if subcommand.description != "" {
			fmt.Fprintln(rc.stdout, subcommand.description)
		}
		fs.SetOutput(rc.stdout)
		fs.PrintDefaults()
	}

	if subcommand.configure != nil {
		subcommand.configure(fs)
	}

	if err := fs.Parse(remaining[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var ctx *AppContext
	var err error
	if !subcommand.skipInit {
		if ctx, err = rc.ensureAppContext(fs); err != nil {
			return err
		}
	}

	if err := subcommand.run(fs, fs.Args(), ctx, rc.stdout, rc.stderr); err != nil {
		if ctx != nil {
			ctx.Logger.Error("command failed", "command", subcommand.name, "error", err)
		} else {
			fmt.Fprintf(rc.stderr, "capsremap %s: %v\n", subcommand.name, err)
		}
		return err
	}
	return nil
}

// ensureAppContext resolves configuration from the defaults, the global flags,
// and the subcommand's --clear-on-exit flag when it defines one.
func (rc *RootCommand) ensureAppContext(fs *pflag.FlagSet) (*AppContext, error) {
	if rc.appCtx != nil {
		return rc.appCtx, nil
	}

	overrides := rc.overrides
	if clearOnExit, err := fs.GetBool("clear-on-exit"); err == nil {
		overrides.ClearOnExit = clearOnExit
	}

	cfg, err := config.Resolve(overrides)
	if err != nil {
		fmt.Fprintf(rc.stderr, "capsremap: invalid configuration: %v\n", err)
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: rc.stderr,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration resolved", "source", cfg.Source, "hidutil", cfg.Utility.Path, "timeout", cfg.Utility.Timeout)

	rc.appCtx = &AppContext{Config: cfg, Logger: logger}
	return rc.appCtx, nil
}

func (rc *RootCommand) printHelp() {
	fmt.Fprintf(rc.stdout, "capsremap - Caps Lock to Escape while the session is unlocked\nVersion: %s\n\n", versionString())
	fmt.Fprintln(rc.stdout, "Usage: capsremap [global flags] [command] [command flags]")
	fmt.Fprintf(rc.stdout, "Without a command, %q is assumed.\n\n", defaultCommand)
	fmt.Fprintln(rc.stdout, "Global flags:")
	fmt.Fprintln(rc.stdout, "  --log-level string   Override log level (debug, info, warn, error)")
	fmt.Fprintln(rc.stdout, "  --log-format string  Override log output format (json, console)")
	fmt.Fprintln(rc.stdout, "  --hidutil string     Path to the HID property utility (default /usr/bin/hidutil)")
	fmt.Fprintln(rc.stdout, "  --timeout duration   Bound on a single utility invocation (default 10s)")
	fmt.Fprintln(rc.stdout, "")
	fmt.Fprintln(rc.stdout, "Available commands:")

	names := make([]string, 0, len(rc.commands))
	for name := range rc.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(rc.stdout, "  %-10s %s\n", name, rc.commands[name].description)
	}
}

func versionString() string {
	v := buildinfo.Version()
	if rev := buildinfo.Revision(); rev != "" {
		v += " " + rev
	}
	return fmt.Sprintf("%s (%s %s/%s)", v, runtimeVersion(), runtimeGOOS(), runtimeGOARCH())
}

// runtimeVersion is extracted for testability.
var runtimeVersion = func() string { return runtime.Version() }

// runtimeGOOS is extracted for testability.
var runtimeGOOS = func() string { return runtime.GOOS }

// runtimeGOARCH is extracted for testability.
var runtimeGOARCH = func() string { return runtime.GOARCH }
