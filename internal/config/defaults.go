package config

import "os"

const (
	defaultConfigPath         = "~/.config/agent-browser/config.toml"
	projectConfigName         = "agent-browser.toml"
	defaultLogDir             = "~/.local/share/agent-browser/logs"
	defaultStateDir           = "~/.local/share/agent-browser/state"
	defaultSessionName        = "default"
	defaultConnectMillis      = 1000
	defaultReadSeconds        = 30
	defaultWriteSeconds       = 5
	defaultReadinessSeconds   = 5
	defaultPollIntervalMillis = 100
	defaultStopSeconds        = 5
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 14
	defaultBackend            = "chromium"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RuntimeDir: os.TempDir(),
			LogDir:     defaultLogDir,
			StateDir:   defaultStateDir,
		},
		Session: Session{
			DefaultName: defaultSessionName,
		},
		Timeouts: Timeouts{
			ConnectMillis:      defaultConnectMillis,
			ReadSeconds:        defaultReadSeconds,
			WriteSeconds:       defaultWriteSeconds,
			ReadinessSeconds:   defaultReadinessSeconds,
			PollIntervalMillis: defaultPollIntervalMillis,
			StopSeconds:        defaultStopSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Browser: Browser{
			Backend:  defaultBackend,
			Headless: true,
		},
	}
}
