package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"agentbrowser/internal/logging"
)

// memoryEngine is a browserless page. Documents come from about:, data: and
// file: URLs; http(s) navigations are recorded without fetching anything.
type memoryEngine struct {
	mu      sync.Mutex
	history []string
	index   int
	doc     *html.Node
	focused *html.Node
	// headers apply to every request; originHeaders only to one origin.
	headers       map[string]string
	originHeaders map[string]map[string]string
	persist       string
	logger        *slog.Logger
	closed        bool
}

// storageState mirrors the playwright storage state file layout.
type storageState struct {
	Cookies []json.RawMessage `json:"cookies"`
	Origins []json.RawMessage `json:"origins"`
}

func newMemoryEngine(opts LaunchOptions) (Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if state := storageStateToLoad(opts); state != "" {
		if err := readStorageState(state); err != nil {
			return nil, err
		}
	}
	doc, err := parseDocument("")
	if err != nil {
		return nil, err
	}
	e := &memoryEngine{
		history: []string{blankURL},
		doc:     doc,
		persist: opts.PersistPath,
		logger:  logging.NewComponentLogger(logger, "browser"),
	}
	e.logger.Info("browser launched",
		logging.String(logging.FieldEventType, "browser_launched"),
		logging.String("backend", BackendMemory),
	)
	return e, nil
}

func readStorageState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load storage state: %w", err)
	}
	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("load storage state %s: %w", path, err)
	}
	return nil
}

func (e *memoryEngine) Backend() string { return BackendMemory }

func (e *memoryEngine) errClosed() error {
	if e.closed {
		return errors.New("browser has been closed")
	}
	return nil
}

// load fetches and parses the document for raw.
func (e *memoryEngine) load(raw string) (*html.Node, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: invalid URL %q: %w", raw, err)
	}
	var content string
	switch strings.ToLower(u.Scheme) {
	case "about", "http", "https":
	case "data":
		content, err = decodeDataURL(raw)
		if err != nil {
			return nil, fmt.Errorf("navigation failed: %w", err)
		}
	case "file":
		data, err := os.ReadFile(filepath.FromSlash(u.Path))
		if err != nil {
			return nil, fmt.Errorf("navigation failed: %w", err)
		}
		content = string(data)
	default:
		return nil, fmt.Errorf("navigation failed: unsupported URL scheme %q", u.Scheme)
	}
	return parseDocument(content)
}

func (e *memoryEngine) Navigate(raw string, opts NavigateOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errClosed(); err != nil {
		return err
	}
	if len(opts.Headers) > 0 {
		origin, ok := originOf(raw)
		if !ok {
			return fmt.Errorf("navigation failed: headers need an http(s) URL, got %q", raw)
		}
		if e.originHeaders == nil {
			e.originHeaders = make(map[string]map[string]string)
		}
		e.originHeaders[origin] = maps.Clone(opts.Headers)
	}
	return e.navigateLocked(raw)
}

func (e *memoryEngine) navigateLocked(raw string) error {
	doc, err := e.load(raw)
	if err != nil {
		return err
	}
	if headers := e.requestHeaders(raw); len(headers) > 0 {
		e.logger.Debug("navigation recorded",
			logging.String("url", raw),
			logging.Int("extra_headers", len(headers)),
		)
	}
	e.history = append(e.history[:e.index+1], raw)
	e.index = len(e.history) - 1
	e.doc = doc
	e.focused = nil
	return nil
}

func (e *memoryEngine) moveTo(index int) error {
	if index < 0 || index >= len(e.history) {
		return nil
	}
	doc, err := e.load(e.history[index])
	if err != nil {
		return err
	}
	e.index = index
	e.doc = doc
	e.focused = nil
	return nil
}

func (e *memoryEngine) Back() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errClosed(); err != nil {
		return err
	}
	return e.moveTo(e.index - 1)
}

func (e *memoryEngine) Forward() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errClosed(); err != nil {
		return err
	}
	return e.moveTo(e.index + 1)
}

func (e *memoryEngine) Reload() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errClosed(); err != nil {
		return err
	}
	return e.moveTo(e.index)
}

func (e *memoryEngine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history[e.index]
}

func (e *memoryEngine) Title() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return documentTitle(e.doc), nil
}

func (e *memoryEngine) Content() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var b strings.Builder
	if err := html.Render(&b, e.doc); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return b.String(), nil
}

func (e *memoryEngine) queryAll(selector string) ([]*html.Node, error) {
	if err := e.errClosed(); err != nil {
		return nil, err
	}
	sel, err := compileSelector(selector)
	if err != nil {
		return nil, err
	}
	return querySelectorAll(e.doc, sel), nil
}

func (e *memoryEngine) query(selector string) (*html.Node, error) {
	nodes, err := e.queryAll(selector)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, selector)
	}
	return nodes[0], nil
}

func (e *memoryEngine) Click(selector string, opts ClickOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.query(selector)
	if err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	if _, disabled := attrValue(n, "disabled"); disabled {
		return fmt.Errorf("click failed: element %s is disabled", selector)
	}
	e.focused = n
	count := max(opts.ClickCount, 1)
	if isCheckable(n) {
		for range count {
			_, checked := attrValue(n, "checked")
			if checked && inputType(n) == "checkbox" {
				removeAttr(n, "checked")
			} else {
				setAttr(n, "checked", "")
			}
		}
		return nil
	}
	if link := closestLink(n); link != nil {
		href, _ := attrValue(link, "href")
		target, ok := e.resolveHref(href)
		if ok {
			return e.navigateLocked(target)
		}
	}
	return nil
}

func closestLink(n *html.Node) *html.Node {
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if cur.DataAtom == atom.A {
			if _, ok := attrValue(cur, "href"); ok {
				return cur
			}
		}
	}
	return nil
}

// resolveHref resolves href against the current URL. Fragment-only and
// javascript: links do not navigate.
func (e *memoryEngine) resolveHref(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if ref.IsAbs() {
		return ref.String(), true
	}
	base, err := url.Parse(e.history[e.index])
	if err != nil || base.Opaque != "" {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

func (e *memoryEngine) editable(selector, op string) (*html.Node, error) {
	n, err := e.query(selector)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if !isEditable(n) {
		return nil, fmt.Errorf("%s failed: element %s is not an <input>, <textarea> or [contenteditable] element", op, selector)
	}
	return n, nil
}

func (e *memoryEngine) Fill(selector, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.editable(selector, "fill")
	if err != nil {
		return err
	}
	setEditableValue(n, value)
	e.focused = n
	return nil
}

func (e *memoryEngine) Type(selector, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.editable(selector, "type")
	if err != nil {
		return err
	}
	setEditableValue(n, editableValue(n)+text)
	e.focused = n
	return nil
}

func (e *memoryEngine) Press(selector, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if key == "" {
		return errors.New("press failed: key is required")
	}
	target := e.focused
	if selector != "" {
		n, err := e.query(selector)
		if err != nil {
			return fmt.Errorf("press failed: %w", err)
		}
		target = n
		e.focused = n
	} else if err := e.errClosed(); err != nil {
		return err
	}
	if target == nil || !isEditable(target) {
		return nil
	}
	value := editableValue(target)
	switch {
	case key == "Backspace":
		if value != "" {
			_, size := utf8.DecodeLastRuneInString(value)
			setEditableValue(target, value[:len(value)-size])
		}
	case utf8.RuneCountInString(key) == 1:
		setEditableValue(target, value+key)
	}
	return nil
}

func (e *memoryEngine) Hover(selector string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.query(selector); err != nil {
		return fmt.Errorf("hover failed: %w", err)
	}
	return nil
}

func (e *memoryEngine) Focus(selector string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.query(selector)
	if err != nil {
		return fmt.Errorf("focus failed: %w", err)
	}
	e.focused = n
	return nil
}

func (e *memoryEngine) SetChecked(selector string, checked bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.query(selector)
	if err != nil {
		return fmt.Errorf("set checked failed: %w", err)
	}
	if !isCheckable(n) {
		return fmt.Errorf("set checked failed: element %s is not a checkbox or radio input", selector)
	}
	if checked {
		setAttr(n, "checked", "")
	} else {
		removeAttr(n, "checked")
	}
	return nil
}

func (e *memoryEngine) Text(selector string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.query(selector)
	if err != nil {
		return "", err
	}
	return textContent(n), nil
}

func (e *memoryEngine) InnerHTML(selector string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.query(selector)
	if err != nil {
		return "", err
	}
	return innerHTML(n)
}

func (e *memoryEngine) InputValue(selector string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.query(selector)
	if err != nil {
		return "", err
	}
	switch n.DataAtom {
	case atom.Input, atom.Textarea:
		return editableValue(n), nil
	case atom.Select:
		option := selectedOption(n)
		if option == nil {
			return "", nil
		}
		if value, ok := attrValue(option, "value"); ok {
			return value, nil
		}
		return strings.TrimSpace(textContent(option)), nil
	default:
		return "", fmt.Errorf("element %s is not an <input>, <textarea> or <select> element", selector)
	}
}

func (e *memoryEngine) Attribute(selector, name string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.query(selector)
	if err != nil {
		return "", false, err
	}
	value, ok := attrValue(n, strings.ToLower(name))
	return value, ok, nil
}

func (e *memoryEngine) Count(selector string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	nodes, err := e.queryAll(selector)
	if err != nil {
		return 0, err
	}
	return len(nodes), nil
}

func (e *memoryEngine) Visible(selector string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	nodes, err := e.queryAll(selector)
	if err != nil || len(nodes) == 0 {
		return false, err
	}
	return !isHidden(nodes[0]), nil
}

// WaitFor checks the condition once; a memory document never changes on its own.
func (e *memoryEngine) WaitFor(selector string, opts WaitOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	nodes, err := e.queryAll(selector)
	if err != nil {
		return err
	}
	state := opts.State
	if state == "" {
		state = "visible"
	}
	var met bool
	switch state {
	case "attached":
		met = len(nodes) > 0
	case "detached":
		met = len(nodes) == 0
	case "visible":
		met = len(nodes) > 0 && !isHidden(nodes[0])
	case "hidden":
		met = len(nodes) == 0 || isHidden(nodes[0])
	default:
		return fmt.Errorf("unknown wait state %q", opts.State)
	}
	if !met {
		return fmt.Errorf("%w waiting for %s to be %s", ErrTimeout, selector, state)
	}
	return nil
}

// Evaluate answers the handful of read-only expressions that need no script
// engine.
func (e *memoryEngine) Evaluate(script string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errClosed(); err != nil {
		return nil, err
	}
	switch strings.TrimSuffix(strings.TrimSpace(script), ";") {
	case "document.title":
		return documentTitle(e.doc), nil
	case "location.href", "window.location.href", "document.URL", "document.location.href":
		return e.history[e.index], nil
	case "history.length", "window.history.length":
		return len(e.history), nil
	case "document.body.innerText", "document.body.textContent":
		if body := findElement(e.doc, atom.Body); body != nil {
			return textContent(body), nil
		}
		return "", nil
	}
	return nil, fmt.Errorf("evaluate: %w (memory backend has no script engine)", ErrUnsupported)
}

func (e *memoryEngine) Screenshot(ScreenshotOptions) ([]byte, error) {
	return nil, fmt.Errorf("screenshot: %w (memory backend does not render)", ErrUnsupported)
}

func (e *memoryEngine) SaveState(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return writeStorageState(path)
}

func writeStorageState(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(storageState{Cookies: []json.RawMessage{}, Origins: []json.RawMessage{}}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode storage state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save storage state: %w", err)
	}
	return nil
}

func (e *memoryEngine) SetHeaders(headers map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errClosed(); err != nil {
		return err
	}
	e.headers = maps.Clone(headers)
	return nil
}

// requestHeaders is the extra header set a request to raw would carry.
func (e *memoryEngine) requestHeaders(raw string) map[string]string {
	out := maps.Clone(e.headers)
	if origin, ok := originOf(raw); ok {
		if scoped := e.originHeaders[origin]; len(scoped) > 0 {
			if out == nil {
				out = make(map[string]string, len(scoped))
			}
			maps.Copy(out, scoped)
		}
	}
	return out
}

func (e *memoryEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.persist != "" {
		if err := writeStorageState(e.persist); err != nil {
			return err
		}
		e.logger.Debug("storage state persisted", logging.String("path", e.persist))
	}
	return nil
}
