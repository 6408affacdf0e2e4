package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/offlinefirst/capsremap/pkg/config"
	"github.com/offlinefirst/capsremap/pkg/launchd"
)

// executablePath is extracted for testability.
var executablePath = os.Executable

func newInstallCommand() command {
	return command{
		name:        "install",
		description: "Install a LaunchAgent that starts the agent at login",
		configure: func(fs *pflag.FlagSet) {
			fs.String("dir", "", "LaunchAgents directory (default ~/Library/LaunchAgents)")
			fs.String("log-file", "", "Absolute path receiving the agent's output")
			fs.Bool("clear-on-exit", false, "Clear the remap when the agent stops")
		},
		run: runInstall,
	}
}

func newUninstallCommand() command {
	return command{
		name:        "uninstall",
		description: "Remove the LaunchAgent",
		configure: func(fs *pflag.FlagSet) {
			fs.String("dir", "", "LaunchAgents directory (default ~/Library/LaunchAgents)")
		},
		run: runUninstall,
	}
}

func runInstall(fs *pflag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	dir, _ := fs.GetString("dir")
	logFile, _ := fs.GetString("log-file")

	la, err := newLaunchAgentWithLog(ctx, dir, logFile)
	if err != nil {
		return err
	}
	path, err := la.Install()
	if err != nil {
		return err
	}

	ctx.Logger.Info("launch agent installed", "path", path, "label", la.Label())
	fmt.Fprintf(stdout, "Installed %s\n", path)
	fmt.Fprintf(stdout, "Load it now with: launchctl bootstrap gui/$(id -u) %s\n", path)
	return nil
}

func runUninstall(fs *pflag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	dir, _ := fs.GetString("dir")

	la, err := newLaunchAgent(ctx, dir)
	if err != nil {
		return err
	}
	if err := la.Uninstall(); err != nil {
		if errors.Is(err, launchd.ErrNotInstalled) {
			fmt.Fprintf(stdout, "Nothing to remove at %s\n", la.Path())
			return nil
		}
		return err
	}

	ctx.Logger.Info("launch agent removed", "path", la.Path())
	fmt.Fprintf(stdout, "Removed %s\n", la.Path())
	fmt.Fprintf(stdout, "Stop a loaded agent with: launchctl bootout gui/$(id -u)/%s\n", la.Label())
	return nil
}

func newLaunchAgent(ctx *AppContext, dir string) (*launchd.Agent, error) {
	return newLaunchAgentWithLog(ctx, dir, "")
}

// newLaunchAgentWithLog builds the job so launchd re-creates the resolved
// configuration: non-default global flags precede the run command.
func newLaunchAgentWithLog(ctx *AppContext, dir, logFile string) (*launchd.Agent, error) {
	exe, err := executablePath()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	cfg := ctx.Config
	defaults := config.Default()
	var args []string
	if cfg.Logging.Level != defaults.Logging.Level {
		args = append(args, "--log-level", cfg.Logging.Level)
	}
	if cfg.Logging.Format != defaults.Logging.Format {
		args = append(args, "--log-format", cfg.Logging.Format)
	}
	if cfg.Utility.Path != defaults.Utility.Path {
		args = append(args, "--hidutil", cfg.Utility.Path)
	}
	if cfg.Utility.Timeout != defaults.Utility.Timeout {
		args = append(args, "--timeout", cfg.Utility.Timeout.String())
	}
	args = append(args, "run")
	if cfg.Agent.ClearOnExit {
		args = append(args, "--clear-on-exit")
	}

	la, err := launchd.NewAgent(launchd.Options{
		Program: exe,
		Args:    args,
		Dir:     dir,
		LogPath: logFile,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare launch agent: %w", err)
	}
	return la, nil
}
