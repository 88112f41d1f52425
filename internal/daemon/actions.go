package daemon

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"agentbrowser/internal/browser"
)

type action func(ctx context.Context, d *Daemon, p params) (any, error)

// actions maps wire action names to handlers. Aliases share a handler.
var actions = map[string]action{
	"launch":       launchAction,
	"navigate":     navigateAction,
	"open":         navigateAction,
	"goto":         navigateAction,
	"url":          urlAction,
	"title":        titleAction,
	"back":         historyAction((browser.Engine).Back),
	"forward":      historyAction((browser.Engine).Forward),
	"reload":       historyAction((browser.Engine).Reload),
	"click":        clickAction(1),
	"dblclick":     clickAction(2),
	"fill":         fillAction,
	"type":         typeAction,
	"press":        pressAction,
	"hover":        selectorAction((browser.Engine).Hover),
	"focus":        selectorAction((browser.Engine).Focus),
	"check":        checkAction(true),
	"uncheck":      checkAction(false),
	"gettext":      textAction,
	"innerhtml":    innerHTMLAction,
	"inputvalue":   inputValueAction,
	"getattribute": attributeAction,
	"count":        countAction,
	"isvisible":    visibleAction,
	"content":      contentAction,
	"evaluate":     evaluateAction,
	"wait":         waitAction,
	"screenshot":   screenshotAction,
	"state_save":   stateSaveAction,
	"headers":      headersAction,
	"status":       statusAction,
	"close":        closeAction,
}

// Actions returns the sorted names the daemon understands.
func Actions() []string {
	return slices.Sorted(maps.Keys(actions))
}

func launchAction(_ context.Context, d *Daemon, p params) (any, error) {
	opts := d.baseLaunchOptions()
	if v := p.str("browser"); v != "" {
		opts.Backend = v
	}
	if v, ok := p.boolean("headless"); ok {
		opts.Headless = v
	}
	if v := p.str("executablePath"); v != "" {
		opts.ExecutablePath = v
	}
	if v := p.list("extensions"); len(v) > 0 {
		opts.Extensions = v
	}
	if v := p.str("profile"); v != "" {
		opts.Profile = v
	}
	if v := p.str("storageState"); v != "" {
		opts.StatePath = v
	}
	if v, ok := p.boolean("ignoreHTTPSErrors"); ok {
		opts.IgnoreHTTPSErrors = v
	}
	if v := p.list("args"); len(v) > 0 {
		opts.Args = v
	}
	if v := p.str("userAgent"); v != "" {
		opts.UserAgent = v
	}
	endpoint, err := p.cdpEndpoint("cdpPort")
	if err != nil {
		return nil, err
	}
	if endpoint != "" {
		opts.CDPEndpoint = endpoint
		if p.str("browser") == "" {
			opts.Backend = browser.BackendChromium
		}
	}
	if proxy := p.object("proxy"); proxy != nil {
		server, err := proxy.required("server")
		if err != nil {
			return nil, fmt.Errorf("proxy: %w", err)
		}
		opts.Proxy = &browser.Proxy{
			Server:   server,
			Bypass:   proxy.str("bypass"),
			Username: proxy.str("username"),
			Password: proxy.str("password"),
		}
	}
	engine, err := d.relaunch(opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"launched": true, "backend": engine.Backend()}, nil
}

func navigateAction(_ context.Context, d *Daemon, p params) (any, error) {
	url, err := p.required("url")
	if err != nil {
		return nil, err
	}
	headers, _, err := p.stringMap("headers")
	if err != nil {
		return nil, err
	}
	engine, err := d.page()
	if err != nil {
		return nil, err
	}
	if err := engine.Navigate(url, browser.NavigateOptions{WaitUntil: p.str("waitUntil"), Headers: headers}); err != nil {
		return nil, err
	}
	title, err := engine.Title()
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": engine.URL(), "title": title}, nil
}

func urlAction(_ context.Context, d *Daemon, _ params) (any, error) {
	engine, err := d.page()
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": engine.URL()}, nil
}

func titleAction(_ context.Context, d *Daemon, _ params) (any, error) {
	engine, err := d.page()
	if err != nil {
		return nil, err
	}
	title, err := engine.Title()
	if err != nil {
		return nil, err
	}
	return map[string]any{"title": title}, nil
}

func historyAction(move func(browser.Engine) error) action {
	return func(_ context.Context, d *Daemon, _ params) (any, error) {
		engine, err := d.page()
		if err != nil {
			return nil, err
		}
		if err := move(engine); err != nil {
			return nil, err
		}
		return map[string]any{"url": engine.URL()}, nil
	}
}

// withSelector resolves the engine and the required selector field.
func withSelector(d *Daemon, p params) (browser.Engine, string, error) {
	selector, err := p.required("selector")
	if err != nil {
		return nil, "", err
	}
	engine, err := d.page()
	if err != nil {
		return nil, "", err
	}
	return engine, selector, nil
}

func selectorAction(op func(browser.Engine, string) error) action {
	return func(_ context.Context, d *Daemon, p params) (any, error) {
		engine, selector, err := withSelector(d, p)
		if err != nil {
			return nil, err
		}
		return nil, op(engine, selector)
	}
}

func clickAction(count int) action {
	return func(_ context.Context, d *Daemon, p params) (any, error) {
		engine, selector, err := withSelector(d, p)
		if err != nil {
			return nil, err
		}
		opts := browser.ClickOptions{Button: p.str("button"), ClickCount: count}
		if n, ok := p.number("clickCount"); ok && n > 0 {
			opts.ClickCount = int(n)
		}
		return nil, engine.Click(selector, opts)
	}
}

func fillAction(_ context.Context, d *Daemon, p params) (any, error) {
	engine, selector, err := withSelector(d, p)
	if err != nil {
		return nil, err
	}
	return nil, engine.Fill(selector, p.str("value"))
}

func typeAction(_ context.Context, d *Daemon, p params) (any, error) {
	engine, selector, err := withSelector(d, p)
	if err != nil {
		return nil, err
	}
	text, err := p.required("text")
	if err != nil {
		return nil, err
	}
	return nil, engine.Type(selector, text)
}

func pressAction(_ context.Context, d *Daemon, p params) (any, error) {
	key, err := p.required("key")
	if err != nil {
		return nil, err
	}
	engine, err := d.page()
	if err != nil {
		return nil, err
	}
	return nil, engine.Press(p.str("selector"), key)
}

func checkAction(checked bool) action {
	return func(_ context.Context, d *Daemon, p params) (any, error) {
		engine, selector, err := withSelector(d, p)
		if err != nil {
			return nil, err
		}
		if err := engine.SetChecked(selector, checked); err != nil {
			return nil, err
		}
		return map[string]any{"checked": checked}, nil
	}
}

func textAction(_ context.Context, d *Daemon, p params) (any, error) {
	engine, selector, err := withSelector(d, p)
	if err != nil {
		return nil, err
	}
	text, err := engine.Text(selector)
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": text}, nil
}

func innerHTMLAction(_ context.Context, d *Daemon, p params) (any, error) {
	engine, selector, err := withSelector(d, p)
	if err != nil {
		return nil, err
	}
	html, err := engine.InnerHTML(selector)
	if err != nil {
		return nil, err
	}
	return map[string]any{"html": html}, nil
}

func inputValueAction(_ context.Context, d *Daemon, p params) (any, error) {
	engine, selector, err := withSelector(d, p)
	if err != nil {
		return nil, err
	}
	value, err := engine.InputValue(selector)
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": value}, nil
}

func attributeAction(_ context.Context, d *Daemon, p params) (any, error) {
	engine, selector, err := withSelector(d, p)
	if err != nil {
		return nil, err
	}
	name, err := p.required("attribute")
	if err != nil {
		return nil, err
	}
	value, present, err := engine.Attribute(selector, name)
	if err != nil {
		return nil, err
	}
	if !present {
		return map[string]any{"value": nil}, nil
	}
	return map[string]any{"value": value}, nil
}

func countAction(_ context.Context, d *Daemon, p params) (any, error) {
	engine, selector, err := withSelector(d, p)
	if err != nil {
		return nil, err
	}
	n, err := engine.Count(selector)
	if err != nil {
		return nil, err
	}
	return map[string]any{"count": n}, nil
}

func visibleAction(_ context.Context, d *Daemon, p params) (any, error) {
	engine, selector, err := withSelector(d, p)
	if err != nil {
		return nil, err
	}
	visible, err := engine.Visible(selector)
	if err != nil {
		return nil, err
	}
	return map[string]any{"visible": visible}, nil
}

func contentAction(_ context.Context, d *Daemon, _ params) (any, error) {
	engine, err := d.page()
	if err != nil {
		return nil, err
	}
	html, err := engine.Content()
	if err != nil {
		return nil, err
	}
	return map[string]any{"html": html}, nil
}

func evaluateAction(_ context.Context, d *Daemon, p params) (any, error) {
	script, err := p.required("script")
	if err != nil {
		return nil, err
	}
	engine, err := d.page()
	if err != nil {
		return nil, err
	}
	result, err := engine.Evaluate(script)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

// waitAction waits for a selector when one is given, otherwise sleeps for
// timeout milliseconds.
func waitAction(ctx context.Context, d *Daemon, p params) (any, error) {
	ms, hasTimeout := p.number("timeout")
	timeout := time.Duration(ms * float64(time.Millisecond))
	if selector := p.str("selector"); selector != "" {
		engine, err := d.page()
		if err != nil {
			return nil, err
		}
		return nil, engine.WaitFor(selector, browser.WaitOptions{State: p.str("state"), Timeout: timeout})
	}
	if !hasTimeout || timeout < 0 {
		return nil, errors.New("wait requires a selector or a timeout in milliseconds")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrShuttingDown
	}
}

func screenshotAction(_ context.Context, d *Daemon, p params) (any, error) {
	engine, err := d.page()
	if err != nil {
		return nil, err
	}
	fullPage, _ := p.boolean("fullPage")
	path := p.str("path")
	data, err := engine.Screenshot(browser.ScreenshotOptions{Path: path, FullPage: fullPage})
	if err != nil {
		return nil, err
	}
	if path != "" {
		return map[string]any{"path": path}, nil
	}
	return map[string]any{"base64": base64.StdEncoding.EncodeToString(data)}, nil
}

func stateSaveAction(_ context.Context, d *Daemon, p params) (any, error) {
	path := p.str("path")
	if path == "" {
		path = d.cfg.StatePath(d.session)
	}
	engine, err := d.page()
	if err != nil {
		return nil, err
	}
	if err := engine.SaveState(path); err != nil {
		return nil, err
	}
	return map[string]any{"path": path}, nil
}

func headersAction(_ context.Context, d *Daemon, p params) (any, error) {
	headers, present, err := p.stringMap("headers")
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, fmt.Errorf("missing required field %q", "headers")
	}
	engine, err := d.page()
	if err != nil {
		return nil, err
	}
	return nil, engine.SetHeaders(headers)
}

func statusAction(_ context.Context, d *Daemon, _ params) (any, error) {
	return d.status(), nil
}

func closeAction(_ context.Context, d *Daemon, _ params) (any, error) {
	if err := d.shutdown(); err != nil {
		return nil, fmt.Errorf("close browser: %w", err)
	}
	return map[string]any{"closed": true}, nil
}
