package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentbrowser/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The runtime directory lives directly under the system temp dir so socket
// paths stay below the platform length limit. The memory backend is selected
// so no browser is required.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	runtimeDir, err := os.MkdirTemp("", "ab")
	if err != nil {
		t.Fatalf("create runtime dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(runtimeDir) })

	cfgVal := config.Default()
	cfgVal.Paths.RuntimeDir = runtimeDir
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Browser.Backend = "memory"
	cfgVal.Logging.Level = "debug"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackend overrides the default browser backend.
func WithBackend(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Browser.Backend = name
	}
}

// WithReadiness shortens the readiness bound and poll interval.
func WithReadiness(timeout, poll time.Duration) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Timeouts.ReadinessSeconds = int((timeout + time.Second - 1) / time.Second)
		b.cfg.Timeouts.PollIntervalMillis = int(poll / time.Millisecond)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
