package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/offlinefirst/capsremap/pkg/agent"
	"github.com/offlinefirst/capsremap/pkg/logging"
	"github.com/offlinefirst/capsremap/pkg/remap"
	"github.com/offlinefirst/capsremap/pkg/session"
)

const (
	sourceDefaults = "<defaults>"
	sourceFlags    = "<defaults+flags>"
)

// Config captures the resolved agent settings. There is no config file; values
// come from Default and are adjusted by command-line flags.
type Config struct {
	Notifications NotificationsConfig `yaml:"notifications"`
	Utility       UtilityConfig       `yaml:"utility"`
	Agent         AgentConfig         `yaml:"agent"`
	Logging       LoggingConfig       `yaml:"logging"`

	// Source indicates whether flags altered the defaults.
	Source string `yaml:"source"`
}

// NotificationsConfig lists the distributed notification names the agent observes.
type NotificationsConfig struct {
	Activation   []string `yaml:"activation"`
	Deactivation []string `yaml:"deactivation"`
}

// UtilityConfig describes how the HID property utility is invoked.
type UtilityConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// AgentConfig tunes the listener.
type AgentConfig struct {
	QueueSize   int  `yaml:"queue_size"`
	ClearOnExit bool `yaml:"clear_on_exit"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Overrides carries flag values; zero values leave the defaults untouched.
type Overrides struct {
	LogLevel    string
	LogFormat   string
	UtilityPath string
	Timeout     time.Duration
	ClearOnExit bool
}

// Default returns the baseline configuration.
func Default() Config {
	names := session.DefaultNames()
	return Config{
		Notifications: NotificationsConfig{
			Activation:   names.Activation,
			Deactivation: names.Deactivation,
		},
		Utility: UtilityConfig{
			Path:    remap.DefaultPath,
			Timeout: remap.DefaultTimeout,
		},
		Agent: AgentConfig{
			QueueSize: agent.DefaultQueueSize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Source: sourceDefaults,
	}
}

// Resolve applies flag overrides on top of the defaults and validates the result.
func Resolve(o Overrides) (Config, error) {
	cfg := Default()
	changed := false

	if strings.TrimSpace(o.LogLevel) != "" {
		lvl, err := logging.NormalizeLevel(o.LogLevel)
		if err != nil {
			return cfg, err
		}
		cfg.Logging.Level = lvl
		changed = true
	}
	if strings.TrimSpace(o.LogFormat) != "" {
		format, err := logging.NormalizeFormat(o.LogFormat)
		if err != nil {
			return cfg, err
		}
		cfg.Logging.Format = format
		changed = true
	}
	if path := strings.TrimSpace(o.UtilityPath); path != "" {
		cfg.Utility.Path = filepath.Clean(path)
		changed = true
	}
	if o.Timeout != 0 {
		cfg.Utility.Timeout = o.Timeout
		changed = true
	}
	if o.ClearOnExit {
		cfg.Agent.ClearOnExit = true
		changed = true
	}
	if changed {
		cfg.Source = sourceFlags
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if len(c.Notifications.Activation) == 0 {
		return errors.New("notifications.activation must not be empty")
	}
	if len(c.Notifications.Deactivation) == 0 {
		return errors.New("notifications.deactivation must not be empty")
	}
	seen := make(map[string]string)
	for _, name := range c.Notifications.Activation {
		if strings.TrimSpace(name) == "" {
			return errors.New("notifications.activation contains an empty name")
		}
		seen[name] = "activation"
	}
	for _, name := range c.Notifications.Deactivation {
		if strings.TrimSpace(name) == "" {
			return errors.New("notifications.deactivation contains an empty name")
		}
		if seen[name] == "activation" {
			return fmt.Errorf("notification %q listed as both activation and deactivation", name)
		}
	}

	if strings.TrimSpace(c.Utility.Path) == "" {
		return errors.New("utility.path must not be empty")
	}
	if !filepath.IsAbs(c.Utility.Path) {
		return fmt.Errorf("utility.path %q must be absolute", c.Utility.Path)
	}
	if c.Utility.Timeout <= 0 {
		return errors.New("utility.timeout must be positive")
	}
	if c.Agent.QueueSize <= 0 {
		return errors.New("agent.queue_size must be positive")
	}

	if _, err := logging.NormalizeLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := logging.NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}
	return nil
}

// YAML renders the configuration for plan output.
func (c Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
