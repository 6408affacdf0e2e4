// Package launchd installs the agent as a per-user LaunchAgent so it starts at
// login and is restarted if it exits.
package launchd

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultLabel identifies the LaunchAgent job.
const DefaultLabel = "com.offlinefirst.capsremap"

// ErrNotInstalled is returned by Uninstall when no plist exists.
var ErrNotInstalled = errors.New("launch agent not installed")

var userHomeDir = os.UserHomeDir

// Options describe the LaunchAgent job.
type Options struct {
	Label   string
	Program string
	Args    []string
	// Dir defaults to ~/Library/LaunchAgents.
	Dir string
	// LogPath receives stdout and stderr of the job when set.
	LogPath string
}

// Agent renders and manages one LaunchAgent plist.
type Agent struct {
	label   string
	program string
	args    []string
	dir     string
	logPath string
}

// DefaultDir returns the per-user LaunchAgents directory.
func DefaultDir() (string, error) {
	home, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents"), nil
}

// NewAgent validates options and returns an Agent.
func NewAgent(opts Options) (*Agent, error) {
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = DefaultLabel
	}
	if strings.ContainsAny(label, `/\`) {
		return nil, fmt.Errorf("label %q must not contain path separators", label)
	}
	if !filepath.IsAbs(opts.Program) {
		return nil, fmt.Errorf("program %q must be an absolute path", opts.Program)
	}
	if opts.LogPath != "" && !filepath.IsAbs(opts.LogPath) {
		return nil, fmt.Errorf("log path %q must be absolute", opts.LogPath)
	}

	dir := opts.Dir
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}

	args := append([]string(nil), opts.Args...)
	if len(args) == 0 {
		args = []string{"run"}
	}

	return &Agent{
		label:   label,
		program: filepath.Clean(opts.Program),
		args:    args,
		dir:     filepath.Clean(dir),
		logPath: opts.LogPath,
	}, nil
}

// Label returns the job label.
func (a *Agent) Label() string {
	return a.label
}

// Path returns the plist location.
func (a *Agent) Path() string {
	return filepath.Join(a.dir, a.label+".plist")
}

// Render produces the plist document.
func (a *Agent) Render() []byte {
	var programArgs strings.Builder
	for _, arg := range append([]string{a.program}, a.args...) {
		fmt.Fprintf(&programArgs, "        <string>%s</string>\n", escape(arg))
	}

	var logging string
	if a.logPath != "" {
		path := escape(a.logPath)
		logging = fmt.Sprintf(`    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
`, path, path)
	}

	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
%s    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>ProcessType</key>
    <string>Interactive</string>
%s</dict>
</plist>
`, escape(a.label), programArgs.String(), logging)
	return []byte(plist)
}

// Install writes the plist, replacing any previous copy, and returns its path.
func (a *Agent) Install() (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create launch agents dir: %w", err)
	}

	path := a.Path()
	tmp, err := os.CreateTemp(a.dir, "."+a.label+"-*.plist")
	if err != nil {
		return "", fmt.Errorf("create temp plist: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(a.Render()); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write plist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close plist: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod plist: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("install plist: %w", err)
	}
	return path, nil
}

// Uninstall removes the plist.
func (a *Agent) Uninstall() error {
	err := os.Remove(a.Path())
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotInstalled
	}
	if err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	return nil
}

// Installed reports whether the plist exists.
func (a *Agent) Installed() bool {
	info, err := os.Stat(a.Path())
	return err == nil && info.Mode().IsRegular()
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
