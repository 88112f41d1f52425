package browser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"agentbrowser/internal/logging"
)

// playwrightEngine drives one page of a playwright browser. browser is nil
// for persistent contexts, which own their browser process. An attached
// engine borrowed its context from a CDP browser and only disconnects.
type playwrightEngine struct {
	mu       sync.Mutex
	backend  string
	pw       *playwright.Playwright
	browser  playwright.Browser
	context  playwright.BrowserContext
	page     playwright.Page
	attached bool
	persist  string
	timeout  float64
	logger   *slog.Logger
	closed   bool
}

func runOptions(stdout, stderr io.Writer) *playwright.RunOptions {
	return &playwright.RunOptions{
		Verbose: false,
		Stdout:  stdout,
		Stderr:  stderr,
	}
}

func launchPlaywright(opts LaunchOptions) (Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(opts.Extensions) > 0 && opts.Backend != BackendChromium {
		return nil, fmt.Errorf("extensions require the chromium backend, not %s", opts.Backend)
	}

	pw, err := playwright.Run(runOptions(io.Discard, io.Discard))
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w (run 'agent-browser install' first)", err)
	}

	engine := &playwrightEngine{
		backend: opts.Backend,
		pw:      pw,
		persist: opts.PersistPath,
		timeout: float64(opts.Timeout.Milliseconds()),
		logger:  logging.NewComponentLogger(logger, "browser"),
	}
	if err := engine.open(opts); err != nil {
		_ = pw.Stop()
		return nil, err
	}
	engine.page.SetDefaultTimeout(engine.timeout)
	engine.logger.Info("browser launched",
		logging.String(logging.FieldEventType, "browser_launched"),
		logging.String("backend", opts.Backend),
		logging.Bool("headless", opts.Headless),
		logging.Bool("persistent_context", engine.browser == nil),
		logging.Bool("cdp", engine.attached),
	)
	return engine, nil
}

func (e *playwrightEngine) browserType() playwright.BrowserType {
	switch e.backend {
	case BackendFirefox:
		return e.pw.Firefox
	case BackendWebKit:
		return e.pw.WebKit
	default:
		return e.pw.Chromium
	}
}

func launchArgs(opts LaunchOptions) []string {
	args := append([]string(nil), opts.Args...)
	if opts.Backend != BackendChromium {
		return args
	}
	if opts.Stealth {
		args = append(args, "--disable-blink-features=AutomationControlled")
	}
	if len(opts.Extensions) > 0 {
		joined := strings.Join(opts.Extensions, ",")
		args = append(args, "--disable-extensions-except="+joined, "--load-extension="+joined)
	}
	return args
}

func toPlaywrightProxy(p *Proxy) *playwright.Proxy {
	if p == nil || strings.TrimSpace(p.Server) == "" {
		return nil
	}
	proxy := &playwright.Proxy{Server: p.Server}
	if p.Bypass != "" {
		proxy.Bypass = playwright.String(p.Bypass)
	}
	if p.Username != "" {
		proxy.Username = playwright.String(p.Username)
	}
	if p.Password != "" {
		proxy.Password = playwright.String(p.Password)
	}
	return proxy
}

// storageStateToLoad picks the explicit state file, else the persisted one
// when it exists.
func storageStateToLoad(opts LaunchOptions) string {
	if opts.StatePath != "" {
		return opts.StatePath
	}
	if opts.PersistPath != "" {
		if _, err := os.Stat(opts.PersistPath); err == nil {
			return opts.PersistPath
		}
	}
	return ""
}

func (e *playwrightEngine) open(opts LaunchOptions) error {
	bt := e.browserType()
	args := launchArgs(opts)
	proxy := toPlaywrightProxy(opts.Proxy)
	var executable *string
	if opts.ExecutablePath != "" {
		executable = playwright.String(opts.ExecutablePath)
	}
	var userAgent *string
	if opts.UserAgent != "" {
		userAgent = playwright.String(opts.UserAgent)
	}

	// Profiles and extensions both need a persistent context. An empty
	// profile makes playwright use a throwaway user data dir.
	if opts.CDPEndpoint != "" {
		if err := e.attach(opts.CDPEndpoint, playwright.BrowserNewContextOptions{
			IgnoreHttpsErrors: playwright.Bool(opts.IgnoreHTTPSErrors),
			UserAgent:         userAgent,
		}); err != nil {
			return err
		}
	} else if opts.Profile != "" || len(opts.Extensions) > 0 {
		ctx, err := bt.LaunchPersistentContext(opts.Profile, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless:          playwright.Bool(opts.Headless),
			ExecutablePath:    executable,
			Args:              args,
			IgnoreHttpsErrors: playwright.Bool(opts.IgnoreHTTPSErrors),
			UserAgent:         userAgent,
			Proxy:             proxy,
		})
		if err != nil {
			return fmt.Errorf("failed to launch %s with persistent context: %w", e.backend, err)
		}
		e.context = ctx
	} else {
		browser, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
			Headless:       playwright.Bool(opts.Headless),
			ExecutablePath: executable,
			Args:           args,
			Proxy:          proxy,
		})
		if err != nil {
			return fmt.Errorf("failed to launch %s: %w", e.backend, err)
		}
		contextOpts := playwright.BrowserNewContextOptions{
			IgnoreHttpsErrors: playwright.Bool(opts.IgnoreHTTPSErrors),
			UserAgent:         userAgent,
		}
		if state := storageStateToLoad(opts); state != "" {
			contextOpts.StorageStatePath = playwright.String(state)
		}
		ctx, err := browser.NewContext(contextOpts)
		if err != nil {
			_ = browser.Close()
			return fmt.Errorf("failed to create context: %w", err)
		}
		e.browser = browser
		e.context = ctx
	}

	if opts.Stealth {
		script := stealthScript
		if err := e.context.AddInitScript(playwright.Script{Content: &script}); err != nil {
			e.closeHandles()
			return fmt.Errorf("failed to install stealth script: %w", err)
		}
	}

	if pages := e.context.Pages(); len(pages) > 0 {
		e.page = pages[0]
		return nil
	}
	page, err := e.context.NewPage()
	if err != nil {
		e.closeHandles()
		return fmt.Errorf("failed to create page: %w", err)
	}
	e.page = page
	return nil
}

// attach connects to an already running chromium and adopts its first
// context, creating one when the browser has none.
func (e *playwrightEngine) attach(endpoint string, contextOpts playwright.BrowserNewContextOptions) error {
	browser, err := e.pw.Chromium.ConnectOverCDP(endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect over CDP to %s: %w", endpoint, err)
	}
	e.browser = browser
	if contexts := browser.Contexts(); len(contexts) > 0 {
		e.context = contexts[0]
		e.attached = true
		return nil
	}
	ctx, err := browser.NewContext(contextOpts)
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("failed to create context: %w", err)
	}
	e.context = ctx
	return nil
}

func (e *playwrightEngine) Backend() string { return e.backend }

func (e *playwrightEngine) Navigate(url string, opts NavigateOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(opts.Headers) > 0 {
		if err := e.routeOriginHeaders(url, opts.Headers); err != nil {
			return err
		}
	}
	gotoOpts := playwright.PageGotoOptions{}
	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		gotoOpts.WaitUntil = &waitUntil
	}
	if _, err := e.page.Goto(url, gotoOpts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// routeOriginHeaders adds headers to every request for the origin of target.
func (e *playwrightEngine) routeOriginHeaders(target string, headers map[string]string) error {
	origin, ok := originOf(target)
	if !ok {
		return fmt.Errorf("navigation failed: headers need an http(s) URL, got %q", target)
	}
	pattern := origin + "/**"
	_ = e.context.Unroute(pattern)
	extra := maps.Clone(headers)
	err := e.context.Route(pattern, func(route playwright.Route) {
		merged := route.Request().Headers()
		for name, value := range extra {
			merged[strings.ToLower(name)] = value
		}
		if err := route.Continue(playwright.RouteContinueOptions{Headers: merged}); err != nil {
			e.logger.Debug("route continue failed", logging.String("origin", origin), logging.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("set headers for %s: %w", origin, err)
	}
	return nil
}

func (e *playwrightEngine) SetHeaders(headers map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.context.SetExtraHTTPHeaders(headers); err != nil {
		return fmt.Errorf("set headers: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Back() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.page.GoBack(); err != nil {
		return fmt.Errorf("back failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Forward() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.page.GoForward(); err != nil {
		return fmt.Errorf("forward failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.page.Reload(); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page.URL()
}

func (e *playwrightEngine) Title() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page.Title()
}

func (e *playwrightEngine) Content() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page.Content()
}

func (e *playwrightEngine) Click(selector string, opts ClickOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	clickOpts := playwright.PageClickOptions{}
	if opts.Button != "" {
		button := playwright.MouseButton(opts.Button)
		clickOpts.Button = &button
	}
	if opts.ClickCount > 0 {
		clickOpts.ClickCount = playwright.Int(opts.ClickCount)
	}
	if err := e.page.Click(selector, clickOpts); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Fill(selector, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.page.Fill(selector, value); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Type(selector, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.page.Locator(selector).PressSequentially(text); err != nil {
		return fmt.Errorf("type failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Press(selector, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if selector == "" {
		err = e.page.Keyboard().Press(key)
	} else {
		err = e.page.Locator(selector).Press(key)
	}
	if err != nil {
		return fmt.Errorf("press failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Hover(selector string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.page.Locator(selector).Hover(); err != nil {
		return fmt.Errorf("hover failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Focus(selector string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.page.Locator(selector).Focus(); err != nil {
		return fmt.Errorf("focus failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) SetChecked(selector string, checked bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.page.Locator(selector).SetChecked(checked); err != nil {
		return fmt.Errorf("set checked failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Text(selector string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page.Locator(selector).First().TextContent()
}

func (e *playwrightEngine) InnerHTML(selector string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page.Locator(selector).First().InnerHTML()
}

func (e *playwrightEngine) InputValue(selector string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page.Locator(selector).First().InputValue()
}

func (e *playwrightEngine) Attribute(selector, name string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	element, err := e.page.QuerySelector(selector)
	if err != nil {
		return "", false, fmt.Errorf("selector query failed: %w", err)
	}
	if element == nil {
		return "", false, fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	defer element.Dispose()
	present, err := element.Evaluate("(el, name) => el.hasAttribute(name)", name)
	if err != nil {
		return "", false, fmt.Errorf("attribute lookup failed: %w", err)
	}
	if ok, _ := present.(bool); !ok {
		return "", false, nil
	}
	value, err := element.GetAttribute(name)
	if err != nil {
		return "", false, fmt.Errorf("attribute lookup failed: %w", err)
	}
	return value, true, nil
}

func (e *playwrightEngine) Count(selector string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page.Locator(selector).Count()
}

func (e *playwrightEngine) Visible(selector string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page.Locator(selector).First().IsVisible()
}

func (e *playwrightEngine) WaitFor(selector string, opts WaitOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	waitOpts := playwright.PageWaitForSelectorOptions{}
	if opts.State != "" {
		state := playwright.WaitForSelectorState(opts.State)
		waitOpts.State = &state
	}
	if opts.Timeout > 0 {
		waitOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}
	if _, err := e.page.WaitForSelector(selector, waitOpts); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w waiting for %s", ErrTimeout, selector)
		}
		return fmt.Errorf("wait failed: %w", err)
	}
	return nil
}

func (e *playwrightEngine) Evaluate(script string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result, err := e.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

func (e *playwrightEngine) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	shotOpts := playwright.PageScreenshotOptions{FullPage: playwright.Bool(opts.FullPage)}
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create screenshot dir: %w", err)
		}
		shotOpts.Path = playwright.String(opts.Path)
	}
	data, err := e.page.Screenshot(shotOpts)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (e *playwrightEngine) SaveState(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveStateLocked(path)
}

func (e *playwrightEngine) saveStateLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if _, err := e.context.StorageState(path); err != nil {
		return fmt.Errorf("save storage state: %w", err)
	}
	return nil
}

// Close saves persisted state when configured and shuts down page, context,
// browser, and driver in that order. Subsequent calls are no-ops.
func (e *playwrightEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.persist != "" {
		if err := e.saveStateLocked(e.persist); err != nil {
			errs = append(errs, err)
		} else {
			e.logger.Debug("storage state persisted", logging.String("path", e.persist))
		}
	}
	errs = append(errs, e.closeHandles())
	if err := e.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

func (e *playwrightEngine) closeHandles() error {
	var errs []error
	if e.attached {
		if e.browser != nil {
			if err := e.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("disconnect browser: %w", err))
			}
		}
		return errors.Join(errs...)
	}
	if e.page != nil {
		if err := e.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if e.context != nil {
		if err := e.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
	}
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	return errors.Join(errs...)
}
