// Package diagnostics runs the doctor checks that explain why the agent would
// not remap keys on this machine.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/offlinefirst/capsremap/pkg/session"
)

// Status enumerates check outcomes.
type Status string

const (
	// StatusPass means the check found nothing wrong.
	StatusPass Status = "pass"
	// StatusFail means the agent cannot work until the problem is fixed.
	StatusFail Status = "fail"
	// StatusWarn means the check could not reach a verdict.
	StatusWarn Status = "warn"
	// StatusInfo carries state worth reporting that is neither good nor bad.
	StatusInfo Status = "info"
)

// Check is the result of one probe.
type Check struct {
	Name     string
	Status   Status
	Message  string
	Guidance string
}

// Report collects every check in run order.
type Report struct {
	Checks []Check
}

// Failed returns the failing checks.
func (r Report) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			failed = append(failed, c)
		}
	}
	return failed
}

// OK reports whether no check failed.
func (r Report) OK() bool {
	return len(r.Failed()) == 0
}

// Process is the subset of process metadata the duplicate check needs.
type Process struct {
	PID  int32
	Name string
}

// LaunchAgent is satisfied by *launchd.Agent.
type LaunchAgent interface {
	Installed() bool
	Path() string
}

// Options configure a diagnostics run. Nil funcs fall back to the real system.
type Options struct {
	UtilityPath string
	AgentName   string
	SelfPID     int32
	LaunchAgent LaunchAgent

	Environment func() session.Environment
	LookPath    func(string) (string, error)
	Processes   func(context.Context) ([]Process, error)
}

// Run executes every check. The returned error aggregates the failing checks
// and is nil when the report is OK.
func Run(ctx context.Context, opts Options) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(opts.UtilityPath) == "" {
		return Report{}, errors.New("utility path must be provided")
	}
	if opts.AgentName == "" {
		opts.AgentName = "capsremap"
	}
	if opts.SelfPID == 0 {
		opts.SelfPID = int32(os.Getpid())
	}
	if opts.Environment == nil {
		opts.Environment = session.DetectEnvironment
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Processes == nil {
		opts.Processes = listProcesses
	}

	report := Report{Checks: []Check{
		checkSession(opts.Environment()),
		checkUtility(opts.LookPath, opts.UtilityPath),
		checkDuplicates(ctx, opts),
		checkLaunchAgent(opts.LaunchAgent),
	}}

	var result *multierror.Error
	for _, c := range report.Failed() {
		result = multierror.Append(result, fmt.Errorf("%s: %s", c.Name, c.Message))
	}
	return report, result.ErrorOrNil()
}

func checkSession(env session.Environment) Check {
	c := Check{Name: "session", Message: env.Message}
	if env.Available {
		c.Status = StatusPass
		return c
	}
	c.Status = StatusFail
	c.Guidance = "the agent only runs inside a macOS login session"
	return c
}

func checkUtility(lookPath func(string) (string, error), path string) Check {
	c := Check{Name: "hidutil"}
	resolved, err := lookPath(path)
	if err != nil {
		c.Status = StatusFail
		c.Message = fmt.Sprintf("%s is not executable: %v", path, err)
		c.Guidance = "pass --hidutil with the location of the HID property utility"
		return c
	}
	c.Status = StatusPass
	c.Message = resolved
	return c
}

func checkDuplicates(ctx context.Context, opts Options) Check {
	c := Check{Name: "duplicates"}
	procs, err := opts.Processes(ctx)
	if err != nil {
		c.Status = StatusWarn
		c.Message = fmt.Sprintf("list processes: %v", err)
		return c
	}

	var others []string
	for _, p := range procs {
		if p.PID != opts.SelfPID && p.Name == opts.AgentName {
			others = append(others, fmt.Sprintf("%d", p.PID))
		}
	}
	if len(others) > 0 {
		c.Status = StatusFail
		c.Message = fmt.Sprintf("another %s agent is running (pid %s)", opts.AgentName, strings.Join(others, ", "))
		c.Guidance = "two agents race each other on lock and unlock; stop the extra one"
		return c
	}
	c.Status = StatusPass
	c.Message = "no other agent running"
	return c
}

func checkLaunchAgent(agent LaunchAgent) Check {
	c := Check{Name: "launch_agent", Status: StatusInfo}
	switch {
	case agent == nil:
		c.Message = "launch agent location unknown"
	case agent.Installed():
		c.Message = "installed at " + agent.Path()
	default:
		c.Message = "not installed"
		c.Guidance = "run 'capsremap install' to start the agent at login"
	}
	return c
}

func listProcesses(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// exited or not ours to inspect
			continue
		}
		out = append(out, Process{PID: p.Pid, Name: name})
	}
	return out, nil
}
