package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"agentbrowser/internal/browser"
	"agentbrowser/internal/config"
	"agentbrowser/internal/ipc"
	"agentbrowser/internal/logging"
	"agentbrowser/internal/session"
)

// ErrShuttingDown is returned for actions received after close.
var ErrShuttingDown = errors.New("daemon is shutting down")

// Launcher starts a browser engine.
type Launcher func(browser.LaunchOptions) (browser.Engine, error)

// Options configures a Daemon.
type Options struct {
	Session string
	Startup config.Startup
	// Launch defaults to browser.Launch.
	Launch Launcher
	Logger *slog.Logger
}

// Daemon answers commands for one session.
type Daemon struct {
	cfg     *config.Config
	session string
	startup config.Startup
	launch  Launcher
	logger  *slog.Logger
	started time.Time

	mu      sync.Mutex
	engine  browser.Engine
	closing bool

	done      chan struct{}
	closeOnce sync.Once
}

// New constructs a daemon. The engine is not launched until needed.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if strings.TrimSpace(opts.Session) == "" {
		return nil, errors.New("daemon requires a session name")
	}
	if name := opts.Startup.SessionName; name != "" {
		if err := session.ValidateName(name); err != nil {
			return nil, fmt.Errorf("session name for saved state: %w", err)
		}
	}
	launch := opts.Launch
	if launch == nil {
		launch = browser.Launch
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Daemon{
		cfg:     cfg,
		session: opts.Session,
		startup: opts.Startup.WithDefaults(cfg.Browser),
		launch:  launch,
		logger:  logging.NewComponentLogger(logger, "daemon"),
		started: time.Now(),
		done:    make(chan struct{}),
	}, nil
}

// Done is closed once the close action has been handled.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Handle implements ipc.Handler.
func (d *Daemon) Handle(ctx context.Context, cmd ipc.Command) ipc.Response {
	id := cmd.ID()
	name := strings.ToLower(strings.TrimSpace(cmd.Action()))
	act, ok := actions[name]
	if !ok {
		return ipc.Fail(id, "Unknown action: "+cmd.Action())
	}
	data, err := act(ctx, d, params(cmd))
	if err != nil {
		logging.WithContext(ctx, d.logger).Debug("action failed",
			logging.String(logging.FieldAction, name),
			logging.Error(err),
		)
		return ipc.Fail(id, err.Error())
	}
	return ipc.OK(id, data)
}

// baseLaunchOptions maps the startup configuration onto engine options.
func (d *Daemon) baseLaunchOptions() browser.LaunchOptions {
	s := d.startup
	opts := browser.LaunchOptions{
		Backend:           s.Backend,
		Headless:          !s.Headed,
		ExecutablePath:    s.ExecutablePath,
		Extensions:        s.Extensions,
		Profile:           s.Profile,
		StatePath:         s.StatePath,
		Stealth:           s.Stealth,
		IgnoreHTTPSErrors: s.IgnoreHTTPSErrors,
		Args:              s.Args,
		UserAgent:         s.UserAgent,
		Logger:            d.logger,
	}
	switch {
	case s.SessionName != "":
		opts.PersistPath = d.cfg.NamedStatePath(s.SessionName)
	case s.Persist:
		opts.PersistPath = d.cfg.StatePath(d.session)
	}
	return opts
}

// page returns the running engine, launching it with the startup
// configuration on first use.
func (d *Daemon) page() (browser.Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil, ErrShuttingDown
	}
	if d.engine != nil {
		return d.engine, nil
	}
	engine, err := d.launch(d.baseLaunchOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	d.engine = engine
	return engine, nil
}

// relaunch replaces the running engine with one built from opts.
func (d *Daemon) relaunch(opts browser.LaunchOptions) (browser.Engine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil, ErrShuttingDown
	}
	if d.engine != nil {
		if err := d.engine.Close(); err != nil {
			logging.WarnWithContext(d.logger, "closing previous browser failed", "browser_close_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a browser process may be left running"),
			)
		}
		d.engine = nil
	}
	engine, err := d.launch(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	d.engine = engine
	return engine, nil
}

func (d *Daemon) running() browser.Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.engine
}

// shutdown closes the engine, refuses further actions, and closes Done.
func (d *Daemon) shutdown() error {
	d.mu.Lock()
	d.closing = true
	engine := d.engine
	d.engine = nil
	d.mu.Unlock()

	var err error
	if engine != nil {
		err = engine.Close()
		d.logger.Info("browser closed",
			logging.String(logging.FieldEventType, "browser_closed"),
			logging.String("backend", engine.Backend()),
		)
	}
	d.closeOnce.Do(func() { close(d.done) })
	return err
}

// Close releases the engine. It is safe to call after the close action.
func (d *Daemon) Close() error {
	return d.shutdown()
}

// Status describes a running daemon.
type Status struct {
	Session  string `json:"session"`
	PID      int    `json:"pid"`
	Backend  string `json:"backend"`
	Launched bool   `json:"launched"`
	URL      string `json:"url,omitempty"`
	Uptime   string `json:"uptime"`
}

func (d *Daemon) status() Status {
	st := Status{
		Session: d.session,
		PID:     os.Getpid(),
		Backend: browser.NormalizeBackend(d.startup.Backend),
		Uptime:  time.Since(d.started).Round(time.Second).String(),
	}
	if engine := d.running(); engine != nil {
		st.Launched = true
		st.Backend = engine.Backend()
		st.URL = engine.URL()
	}
	return st
}
