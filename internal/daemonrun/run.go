package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"agentbrowser/internal/config"
	"agentbrowser/internal/daemon"
	"agentbrowser/internal/ipc"
	"agentbrowser/internal/logging"
	"agentbrowser/internal/procstate"
	"agentbrowser/internal/session"
)

// ErrSessionRunning is returned when another live process owns the marker.
var ErrSessionRunning = errors.New("session already running")

// Options configures daemon process runtime behavior.
type Options struct {
	Session  string
	LogLevel string
	// Diagnostic mirrors every record into a debug JSON log.
	Diagnostic bool
	// Startup is read from the environment when nil.
	Startup *config.Startup
	// Launch overrides the browser launcher; tests use it.
	Launch daemon.Launcher
}

// Run serves one session until the close action or SIGINT/SIGTERM.
//
// The endpoint is bound before the marker is written, so a marker holding
// this pid always means the daemon accepts connections. The marker is
// removed on exit only while it still holds this pid.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	raw := opts.Session
	if strings.TrimSpace(raw) == "" {
		raw = cfg.Session.DefaultName
	}
	name := session.Canonical(raw)
	if err := session.ValidateName(name); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, name, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	pid := os.Getpid()
	paths := session.Resolve(cfg.Paths.RuntimeDir, name)

	if owner, err := session.ReadPID(paths.MarkerPath); err == nil && owner > 0 && owner != pid && procstate.Alive(owner) {
		logging.ErrorWithContext(logger, "session already owned by another daemon", "daemon_start_refused",
			logging.Int("owner_pid", owner),
			logging.String("marker", paths.MarkerPath),
			logging.String(logging.FieldErrorHint, "run 'agent-browser close' for this session first"),
		)
		return fmt.Errorf("%w: %s (pid %d)", ErrSessionRunning, name, owner)
	}

	startup := config.StartupFromEnv(nil)
	if opts.Startup != nil {
		startup = *opts.Startup
	}
	d, err := daemon.New(cfg, daemon.Options{
		Session: name,
		Startup: startup,
		Launch:  opts.Launch,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	server, err := ipc.NewServer(signalCtx, paths.Endpoint, d, logger)
	if err != nil {
		_ = d.Close()
		return fmt.Errorf("start IPC server: %w", err)
	}
	server.Serve()

	if err := writeMarker(paths.MarkerPath, pid); err != nil {
		server.Close()
		_ = d.Close()
		return fmt.Errorf("write session marker: %w", err)
	}

	logger.Info("daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.Int(logging.FieldPID, pid),
		logging.String("endpoint", paths.Endpoint.String()),
		logging.String("marker", paths.MarkerPath),
		logging.Bool("headed", startup.Headed),
		logging.String("backend", startup.Backend),
	)

	reason := "signal"
	select {
	case <-signalCtx.Done():
	case <-d.Done():
		reason = "close"
	}
	logger.Info("daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_stopping"),
		logging.String("reason", reason),
	)

	started := time.Now()
	server.Close()
	if err := d.Close(); err != nil {
		logging.WarnWithContext(logger, "browser shutdown failed", "browser_close_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a browser process may be left running"),
		)
	}
	removeMarker(paths.MarkerPath, pid, logger)
	logger.Info("daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
		logging.Duration("shutdown", time.Since(started)),
	)
	return nil
}

func newLogger(cfg *config.Config, name string, opts Options) (*slog.Logger, error) {
	logger, err := logging.NewDaemonLogger(cfg, opts.LogLevel)
	if err != nil {
		return nil, err
	}
	logger = logger.With(logging.String(logging.FieldSession, name))

	debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
	var debugLogPath string
	if opts.Diagnostic {
		runID := time.Now().UTC().Format("20060102T150405.000Z")
		debugLogPath = filepath.Join(debugDir, fmt.Sprintf("daemon-%s-%s.log", name, runID))
		debugLogger, debugErr := logging.New(logging.Options{
			Level:       "debug",
			Format:      "json",
			OutputPaths: []string{debugLogPath},
			Development: true,
		})
		if debugErr != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", debugErr)
		} else {
			logger = logging.TeeLogger(logger, debugLogger.With(logging.String(logging.FieldSession, name)).Handler())
			logger.Info("diagnostic mode enabled",
				logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
				logging.String("debug_log_path", debugLogPath),
			)
		}
	}

	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "daemon-*.log", Keep: []string{cfg.DaemonLogPath(name)}},
		logging.RetentionTarget{Dir: debugDir, Pattern: "daemon-*.log", Keep: []string{debugLogPath}},
	)
	return logger, nil
}
