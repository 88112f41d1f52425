// Package browser defines the page-level engine a session daemon drives and
// its backends.
//
// The playwright backends (chromium, firefox, webkit) run a real browser
// through playwright-go. The memory backend parses documents with
// golang.org/x/net/html and never touches the network; tests and dry runs
// use it.
package browser
