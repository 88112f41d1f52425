package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Backend names accepted by Launch.
const (
	BackendChromium = "chromium"
	BackendFirefox  = "firefox"
	BackendWebKit   = "webkit"
	BackendMemory   = "memory"
)

// DefaultTimeout bounds a single page operation.
const DefaultTimeout = 25 * time.Second

var (
	// ErrUnsupported marks an operation the active backend cannot perform.
	ErrUnsupported = errors.New("operation not supported by backend")
	// ErrNoElement is returned when a selector matches nothing.
	ErrNoElement = errors.New("no element matches selector")
	// ErrTimeout is returned when a wait condition is not met in time.
	ErrTimeout = errors.New("timed out")
)

// Proxy routes browser traffic through an upstream server.
type Proxy struct {
	Server   string `json:"server"`
	Bypass   string `json:"bypass,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// LaunchOptions configures a new engine.
type LaunchOptions struct {
	Backend        string
	Headless       bool
	ExecutablePath string
	Extensions     []string
	Profile        string
	StatePath      string
	// PersistPath is loaded at launch when present and written on Close.
	PersistPath       string
	Stealth           bool
	IgnoreHTTPSErrors bool
	Args              []string
	UserAgent         string
	Proxy             *Proxy
	// CDPEndpoint attaches to a running chromium over the DevTools protocol
	// instead of launching one. It is an http(s) or ws(s) URL.
	CDPEndpoint string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// NavigateOptions controls a navigation.
type NavigateOptions struct {
	// WaitUntil is one of load, domcontentloaded, networkidle, commit.
	WaitUntil string
	// Headers are sent with every request to the target URL's origin,
	// including later ones, until replaced by another navigation there.
	Headers map[string]string
}

// ClickOptions controls a click.
type ClickOptions struct {
	Button     string
	ClickCount int
}

// WaitOptions controls WaitFor.
type WaitOptions struct {
	// State is one of attached, detached, visible, hidden. Empty means visible.
	State   string
	Timeout time.Duration
}

// ScreenshotOptions controls a screenshot. An empty Path returns the bytes only.
type ScreenshotOptions struct {
	Path     string
	FullPage bool
}

// Engine is one browser page plus its owning context. Implementations are
// safe for concurrent use.
type Engine interface {
	Backend() string

	Navigate(url string, opts NavigateOptions) error
	Back() error
	Forward() error
	Reload() error
	URL() string
	Title() (string, error)
	Content() (string, error)

	Click(selector string, opts ClickOptions) error
	Fill(selector, value string) error
	Type(selector, text string) error
	// Press sends key to selector, or to the focused element when selector is empty.
	Press(selector, key string) error
	Hover(selector string) error
	Focus(selector string) error
	SetChecked(selector string, checked bool) error

	Text(selector string) (string, error)
	InnerHTML(selector string) (string, error)
	InputValue(selector string) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(selector, name string) (string, bool, error)
	Count(selector string) (int, error)
	Visible(selector string) (bool, error)
	WaitFor(selector string, opts WaitOptions) error

	Evaluate(script string) (any, error)
	Screenshot(opts ScreenshotOptions) ([]byte, error)
	SaveState(path string) error
	// SetHeaders replaces the extra HTTP headers sent with every request.
	SetHeaders(headers map[string]string) error
	Close() error
}

// NormalizeBackend maps an empty or mixed-case backend name to its canonical form.
func NormalizeBackend(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return BackendChromium
	}
	return name
}

// Launch starts an engine for opts.Backend.
func Launch(opts LaunchOptions) (Engine, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	backend := NormalizeBackend(opts.Backend)
	if opts.CDPEndpoint != "" && backend != BackendChromium {
		return nil, fmt.Errorf("%w: CDP connections require the chromium backend, not %s", ErrUnsupported, backend)
	}
	switch backend {
	case BackendMemory:
		return newMemoryEngine(opts)
	case BackendChromium, BackendFirefox, BackendWebKit:
		opts.Backend = backend
		return launchPlaywright(opts)
	default:
		return nil, fmt.Errorf("unknown browser backend %q (want chromium, firefox, webkit, or memory)", opts.Backend)
	}
}

// originOf returns scheme://host for an http(s) URL.
func originOf(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	return scheme + "://" + strings.ToLower(u.Host), true
}
