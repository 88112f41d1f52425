package browser

import (
	"fmt"
	"slices"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// compileSelector parses a CSS selector group for the memory backend.
func compileSelector(src string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", src, err)
	}
	return sel, nil
}

// querySelectorAll returns the elements under root matching sel in document order.
func querySelectorAll(root *html.Node, sel cascadia.Selector) []*html.Node {
	return slices.DeleteFunc(sel.MatchAll(root), func(n *html.Node) bool {
		return n == root || n.Type != html.ElementNode
	})
}
