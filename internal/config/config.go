package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the shared runtime and log directories.
type Paths struct {
	RuntimeDir string `toml:"runtime_dir"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
}

// Session contains session naming defaults.
type Session struct {
	DefaultName string `toml:"default_name"`
}

// Timeouts bounds every blocking step between the CLI and a daemon.
type Timeouts struct {
	ConnectMillis      int `toml:"connect_ms"`
	ReadSeconds        int `toml:"read_seconds"`
	WriteSeconds       int `toml:"write_seconds"`
	ReadinessSeconds   int `toml:"readiness_seconds"`
	PollIntervalMillis int `toml:"poll_interval_ms"`
	StopSeconds        int `toml:"stop_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Browser contains defaults applied when a daemon is launched.
type Browser struct {
	Backend  string `toml:"backend"`
	Headless bool   `toml:"headless"`
}

// Config encapsulates all configuration values for agent-browser.
//
// Configuration sections by subsystem:
//   - Paths: shared runtime directory (markers, sockets) and daemon logs
//   - Session: default session name
//   - Timeouts: connect/read/readiness bounds for daemon control
//   - Logging: log format and level
//   - Browser: launch defaults for new daemons
type Config struct {
	Paths    Paths    `toml:"paths"`
	Session  Session  `toml:"session"`
	Timeouts Timeouts `toml:"timeouts"`
	Logging  Logging  `toml:"logging"`
	Browser  Browser  `toml:"browser"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) applyEnv() {
	if dir, ok := os.LookupEnv(EnvSocketDir); ok && strings.TrimSpace(dir) != "" {
		c.Paths.RuntimeDir = dir
	}
	if name, ok := os.LookupEnv(EnvSession); ok && strings.TrimSpace(name) != "" {
		c.Session.DefaultName = name
	}
}

// EnsureDirectories creates the runtime and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RuntimeDir, c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ConnectTimeout bounds a single connect attempt to a daemon endpoint.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Timeouts.ConnectMillis) * time.Millisecond
}

// ReadTimeout bounds the wait for a daemon response.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.ReadSeconds) * time.Second
}

// WriteTimeout bounds writing a command frame.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.WriteSeconds) * time.Second
}

// ReadinessTimeout bounds the wait for a freshly spawned daemon.
func (c *Config) ReadinessTimeout() time.Duration {
	return time.Duration(c.Timeouts.ReadinessSeconds) * time.Second
}

// PollInterval is the delay between readiness probes.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Timeouts.PollIntervalMillis) * time.Millisecond
}

// StopTimeout bounds the wait for a daemon to exit after a close request.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Timeouts.StopSeconds) * time.Second
}

// DaemonLogPath returns the log file a session daemon writes to.
func (c *Config) DaemonLogPath(session string) string {
	return filepath.Join(c.Paths.LogDir, fmt.Sprintf("daemon-%s.log", session))
}

// StatePath returns the storage state file a persistent session saves to.
func (c *Config) StatePath(session string) string {
	return filepath.Join(c.Paths.StateDir, session+".json")
}

// NamedStatePath is the storage state file for a --session-name.
func (c *Config) NamedStatePath(name string) string {
	return filepath.Join(c.Paths.StateDir, "named", name+".json")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
