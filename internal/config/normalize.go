package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSession()
	c.normalizeTimeouts()
	c.normalizeLogging()
	c.normalizeBrowser()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = os.TempDir()
	}
	if c.Paths.RuntimeDir, err = expandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSession() {
	c.Session.DefaultName = strings.TrimSpace(c.Session.DefaultName)
	if c.Session.DefaultName == "" {
		c.Session.DefaultName = defaultSessionName
	}
}

func (c *Config) normalizeTimeouts() {
	if c.Timeouts.ConnectMillis <= 0 {
		c.Timeouts.ConnectMillis = defaultConnectMillis
	}
	if c.Timeouts.ReadSeconds <= 0 {
		c.Timeouts.ReadSeconds = defaultReadSeconds
	}
	if c.Timeouts.WriteSeconds <= 0 {
		c.Timeouts.WriteSeconds = defaultWriteSeconds
	}
	if c.Timeouts.ReadinessSeconds <= 0 {
		c.Timeouts.ReadinessSeconds = defaultReadinessSeconds
	}
	if c.Timeouts.PollIntervalMillis <= 0 {
		c.Timeouts.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Timeouts.StopSeconds <= 0 {
		c.Timeouts.StopSeconds = defaultStopSeconds
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func (c *Config) normalizeBrowser() {
	backend := strings.ToLower(strings.TrimSpace(c.Browser.Backend))
	if backend == "" {
		backend = defaultBackend
	}
	c.Browser.Backend = backend
}
