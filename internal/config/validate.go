package config

import (
	"fmt"
	"slices"
)

// Backends lists the browser engines a daemon can be launched with.
var Backends = []string{"chromium", "firefox", "webkit", "memory"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := ValidateBackend(c.Browser.Backend); err != nil {
		return fmt.Errorf("browser.backend: %w", err)
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	if c.Timeouts.ReadSeconds*1000 <= c.Timeouts.ConnectMillis {
		return fmt.Errorf("timeouts.read_seconds (%ds) must be longer than timeouts.connect_ms (%dms)", c.Timeouts.ReadSeconds, c.Timeouts.ConnectMillis)
	}
	if c.Timeouts.PollIntervalMillis >= c.Timeouts.ReadinessSeconds*1000 {
		return fmt.Errorf("timeouts.poll_interval_ms (%d) must be shorter than timeouts.readiness_seconds (%ds)", c.Timeouts.PollIntervalMillis, c.Timeouts.ReadinessSeconds)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days must be >= 0 (0 disables pruning)")
	}
	return nil
}

// ValidateBackend reports whether name is a supported browser backend.
func ValidateBackend(name string) error {
	if name == "" || slices.Contains(Backends, name) {
		return nil
	}
	return fmt.Errorf("unsupported backend %q (valid: %v)", name, Backends)
}
