package browser

import (
	"fmt"
	"io"

	"github.com/playwright-community/playwright-go"
)

// InstallOptions selects which browsers Install downloads.
type InstallOptions struct {
	// Browsers lists backend names; empty installs chromium only.
	Browsers []string
	Stdout   io.Writer
	Stderr   io.Writer
}

// Install downloads the playwright driver and the requested browsers.
func Install(opts InstallOptions) error {
	browsers := make([]string, 0, len(opts.Browsers))
	for _, name := range opts.Browsers {
		switch backend := NormalizeBackend(name); backend {
		case BackendChromium, BackendFirefox, BackendWebKit:
			browsers = append(browsers, backend)
		default:
			return fmt.Errorf("cannot install backend %q", name)
		}
	}
	if len(browsers) == 0 {
		browsers = []string{BackendChromium}
	}
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	runOpts := runOptions(stdout, stderr)
	runOpts.Verbose = true
	runOpts.Browsers = browsers
	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	return nil
}
