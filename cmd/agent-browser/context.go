package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"agentbrowser/internal/config"
	"agentbrowser/internal/daemonctl"
	"agentbrowser/internal/ipc"
	"agentbrowser/internal/logging"
	"agentbrowser/internal/session"
)

// errReported marks a failure that has already been rendered.
var errReported = errors.New("reported")

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	session           string
	json              bool
	configPath        string
	debug             bool
	headed            bool
	executablePath    string
	extensions        []string
	state             string
	persist           bool
	stealth           bool
	profile           string
	ignoreHTTPSErrors bool
	args              string
	userAgent         string
	backend           string
	sessionName       string
	headers           string
	cdp               string
}

type commandContext struct {
	flags globalFlags
	// changed reports whether a persistent flag was set on the command line.
	changed func(name string) bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger

	rendererOnce sync.Once
	render       *renderer
}

func newCommandContext() *commandContext {
	return &commandContext{changed: func(string) bool { return false }}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(strings.TrimSpace(c.flags.configPath))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		if exists {
			c.configPath = path
		}
	})
	return c.config, c.configErr
}

// cliLogger writes to stderr at warn unless --debug is set.
func (c *commandContext) cliLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		level := "warn"
		if c.flags.debug {
			level = "debug"
		}
		format := "console"
		if c.config != nil {
			format = c.config.Logging.Format
		}
		logger, err := logging.New(logging.Options{Level: level, Format: format, OutputPaths: []string{"stderr"}})
		if err != nil {
			logger = logging.NewNop()
		}
		c.logger = logger
	})
	return c.logger
}

// renderer is built on first use and reused for the rest of the invocation.
func (c *commandContext) renderer(stdout, stderr io.Writer) *renderer {
	c.rendererOnce.Do(func() {
		c.render = newRenderer(stdout, stderr, c.flags.json, colorEnabled(stdout))
	})
	return c.render
}

func (c *commandContext) rendererFor(cmd *cobra.Command) *renderer {
	return c.renderer(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// sessionName is --session, else the configured default.
func (c *commandContext) sessionName() string {
	if name := strings.TrimSpace(c.flags.session); name != "" {
		return session.Canonical(name)
	}
	if c.config != nil {
		return session.Canonical(c.config.Session.DefaultName)
	}
	return "default"
}

// startup merges the AGENT_BROWSER_* environment with explicitly set flags.
func (c *commandContext) startup() config.Startup {
	s := config.StartupFromEnv(nil)
	f := c.flags
	if c.changed("headed") {
		s.Headed = f.headed
	}
	if c.changed("executable-path") {
		s.ExecutablePath = strings.TrimSpace(f.executablePath)
	}
	if c.changed("extension") {
		s.Extensions = nil
		for _, ext := range f.extensions {
			s.Extensions = append(s.Extensions, config.SplitList(ext)...)
		}
	}
	if c.changed("state") {
		s.StatePath = strings.TrimSpace(f.state)
	}
	if c.changed("persist") {
		s.Persist = f.persist
	}
	if c.changed("stealth") {
		s.Stealth = f.stealth
	}
	if c.changed("profile") {
		s.Profile = strings.TrimSpace(f.profile)
	}
	if c.changed("ignore-https-errors") {
		s.IgnoreHTTPSErrors = f.ignoreHTTPSErrors
	}
	if c.changed("args") {
		s.Args = config.SplitList(f.args)
	}
	if c.changed("user-agent") {
		s.UserAgent = strings.TrimSpace(f.userAgent)
	}
	if c.changed("backend") {
		s.Backend = strings.ToLower(strings.TrimSpace(f.backend))
	}
	if c.changed("session-name") {
		s.SessionName = strings.TrimSpace(f.sessionName)
	}
	return s
}

func (c *commandContext) supervisor() (*daemonctl.Supervisor, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return daemonctl.New(cfg, exe, c.configPath, c.cliLogger()), nil
}

func (c *commandContext) clientOptions() []ipc.ClientOption {
	cfg := c.config
	return []ipc.ClientOption{
		ipc.WithTimeouts(cfg.ConnectTimeout(), cfg.ReadTimeout(), cfg.WriteTimeout()),
		ipc.WithLogger(c.cliLogger()),
	}
}

// dispatch ensures the session daemon is running, sends command, and
// renders the reply. A failed reply is returned as errReported.
func (c *commandContext) dispatch(cmd *cobra.Command, command ipc.Command) error {
	return c.deliver(cmd, command, true)
}

// dispatchQuiet is dispatch for commands that apply the browser flags
// themselves, so a running daemon ignoring them is not worth a warning.
func (c *commandContext) dispatchQuiet(cmd *cobra.Command, command ipc.Command) error {
	return c.deliver(cmd, command, false)
}

func (c *commandContext) deliver(cmd *cobra.Command, command ipc.Command, warn bool) error {
	r := c.rendererFor(cmd)
	resp, err := c.send(cmd.Context(), r, command, warn)
	if err != nil {
		return err
	}
	r.response(resp)
	if !resp.Success {
		return errReported
	}
	return nil
}

func (c *commandContext) send(ctx context.Context, r *renderer, command ipc.Command, warn bool) (*ipc.Response, error) {
	sup, err := c.supervisor()
	if err != nil {
		return nil, err
	}
	name := c.sessionName()
	startup := c.startup()
	if err := config.ValidateBackend(startup.Backend); err != nil {
		return nil, err
	}
	if startup.SessionName != "" {
		if err := session.ValidateName(startup.SessionName); err != nil {
			return nil, fmt.Errorf("--session-name: %w", err)
		}
	}
	cdp, err := parseCDPEndpoint(c.flags.cdp)
	if err != nil {
		return nil, err
	}
	result, err := sup.EnsureDaemon(ctx, name, startup)
	if err != nil {
		return nil, err
	}
	if result.AlreadyRunning && warn {
		r.warnIgnored(result.Ignored)
	}
	if cdp != nil && command.Action() != "launch" {
		if err := c.connectCDP(ctx, name, cdp); err != nil {
			return nil, err
		}
	}
	return ipc.SendCommand(ctx, c.config.Paths.RuntimeDir, name, command, c.clientOptions()...)
}

// requiresConfig reports whether cmd loads configuration before running.
func requiresConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return false
		}
	}
	return true
}
