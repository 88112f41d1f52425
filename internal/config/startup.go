package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment contract shared by the CLI and the daemon it spawns.
const (
	EnvSession           = "AGENT_BROWSER_SESSION"
	EnvSocketDir         = "AGENT_BROWSER_SOCKET_DIR"
	EnvDaemon            = "AGENT_BROWSER_DAEMON"
	EnvHeaded            = "AGENT_BROWSER_HEADED"
	EnvExecutablePath    = "AGENT_BROWSER_EXECUTABLE_PATH"
	EnvExtensions        = "AGENT_BROWSER_EXTENSIONS"
	EnvState             = "AGENT_BROWSER_STATE"
	EnvPersist           = "AGENT_BROWSER_PERSIST"
	EnvStealth           = "AGENT_BROWSER_STEALTH"
	EnvProfile           = "AGENT_BROWSER_PROFILE"
	EnvIgnoreHTTPSErrors = "AGENT_BROWSER_IGNORE_HTTPS_ERRORS"
	EnvArgs              = "AGENT_BROWSER_ARGS"
	EnvUserAgent         = "AGENT_BROWSER_USER_AGENT"
	EnvBackend           = "AGENT_BROWSER_BACKEND"
	EnvSessionName       = "AGENT_BROWSER_SESSION_NAME"
)

// Startup is the launch-time configuration of a daemon. It only takes effect
// when a new daemon process is spawned; a running daemon never sees it.
type Startup struct {
	Headed            bool
	ExecutablePath    string
	Extensions        []string
	StatePath         string
	Persist           bool
	Stealth           bool
	Profile           string
	IgnoreHTTPSErrors bool
	Args              []string
	UserAgent         string
	Backend           string
	// SessionName keys storage state that is loaded at launch and saved on
	// close, independent of the daemon session.
	SessionName string
}

// Setting names one startup field that was supplied with a non-default value.
type Setting struct {
	Field string
	Flag  string
	Hint  string
}

// StartupFromEnv decodes a Startup from AGENT_BROWSER_* variables using lookup.
// A nil lookup reads the process environment.
func StartupFromEnv(lookup func(string) (string, bool)) Startup {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}
	return Startup{
		Headed:            envBool(get(EnvHeaded)),
		ExecutablePath:    get(EnvExecutablePath),
		Extensions:        SplitList(get(EnvExtensions)),
		StatePath:         get(EnvState),
		Persist:           envBool(get(EnvPersist)),
		Stealth:           envBool(get(EnvStealth)),
		Profile:           get(EnvProfile),
		IgnoreHTTPSErrors: envBool(get(EnvIgnoreHTTPSErrors)),
		Args:              SplitList(get(EnvArgs)),
		UserAgent:         get(EnvUserAgent),
		Backend:           strings.ToLower(get(EnvBackend)),
		SessionName:       get(EnvSessionName),
	}
}

// Env encodes s as KEY=value pairs. Every key is emitted so values inherited
// from the parent environment cannot leak into the spawned daemon.
func (s Startup) Env() []string {
	return []string{
		EnvHeaded + "=" + strconv.FormatBool(s.Headed),
		EnvExecutablePath + "=" + s.ExecutablePath,
		EnvExtensions + "=" + strings.Join(s.Extensions, ","),
		EnvState + "=" + s.StatePath,
		EnvPersist + "=" + strconv.FormatBool(s.Persist),
		EnvStealth + "=" + strconv.FormatBool(s.Stealth),
		EnvProfile + "=" + s.Profile,
		EnvIgnoreHTTPSErrors + "=" + strconv.FormatBool(s.IgnoreHTTPSErrors),
		EnvArgs + "=" + strings.Join(s.Args, ","),
		EnvUserAgent + "=" + s.UserAgent,
		EnvBackend + "=" + s.Backend,
		EnvSessionName + "=" + s.SessionName,
	}
}

// WithDefaults fills fields the caller left unset from the [browser] section.
func (s Startup) WithDefaults(b Browser) Startup {
	if s.Backend == "" {
		s.Backend = b.Backend
	}
	if !s.Headed && !b.Headless {
		s.Headed = true
	}
	return s
}

// NonDefault lists every field of s that differs from the zero Startup, in a
// fixed order.
func (s Startup) NonDefault() []Setting {
	var out []Setting
	add := func(set bool, field, flag, hint string) {
		if set {
			out = append(out, Setting{Field: field, Flag: flag, Hint: hint})
		}
	}
	add(s.Headed, "headless", "--headed", "to restart in headed mode")
	add(s.ExecutablePath != "", "executable_path", "--executable-path", "to restart with new path")
	add(len(s.Extensions) > 0, "extensions", "--extension", "to restart with extensions")
	add(s.Profile != "", "profile", "--profile", "to restart with profile")
	add(s.IgnoreHTTPSErrors, "ignore_https_errors", "--ignore-https-errors", "to restart with this option")
	add(s.StatePath != "", "state", "--state", "to restart with state")
	add(s.Persist, "persist", "--persist", "to restart with persistence")
	add(s.Stealth, "stealth", "--stealth", "to restart with stealth mode")
	add(len(s.Args) > 0, "args", "--args", "to restart with launch arguments")
	add(s.UserAgent != "", "user_agent", "--user-agent", "to restart with user agent")
	add(s.Backend != "", "backend", "--backend", "to restart with different backend")
	add(s.SessionName != "", "session_name", "--session-name", "to restart with named state")
	return out
}

// SplitList splits a comma-separated value, trimming blanks.
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envBool(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
