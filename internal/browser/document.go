package browser

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const blankURL = "about:blank"

func parseDocument(content string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// decodeDataURL returns the payload of a data: URL.
func decodeDataURL(raw string) (string, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", fmt.Errorf("not a data URL: %q", raw)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", fmt.Errorf("malformed data URL: missing ','")
	}
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("malformed data URL: %w", err)
		}
		return string(decoded), nil
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", fmt.Errorf("malformed data URL: %w", err)
	}
	return decoded, nil
}

func attrValue(n *html.Node, name string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == name {
			return attr.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	attrs := n.Attr[:0]
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == name {
			continue
		}
		attrs = append(attrs, attr)
	}
	n.Attr = attrs
}

// textContent concatenates every descendant text node, like the DOM property.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func setTextContent(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func innerHTML(n *html.Node) (string, error) {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", fmt.Errorf("render element: %w", err)
		}
	}
	return b.String(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func documentTitle(doc *html.Node) string {
	title := findElement(doc, atom.Title)
	if title == nil {
		return ""
	}
	return strings.Join(strings.Fields(textContent(title)), " ")
}

// isHidden approximates CSS visibility without a layout engine: non-rendered
// elements, the hidden attribute, hidden inputs, and inline display:none or
// visibility:hidden on the element or an ancestor.
func isHidden(n *html.Node) bool {
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		switch cur.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Template, atom.Title, atom.Meta, atom.Link, atom.Noscript:
			return true
		}
		if _, ok := attrValue(cur, "hidden"); ok {
			return true
		}
		if cur.DataAtom == atom.Input {
			if kind, _ := attrValue(cur, "type"); strings.EqualFold(kind, "hidden") {
				return true
			}
		}
		if style, ok := attrValue(cur, "style"); ok {
			compact := strings.ToLower(strings.ReplaceAll(style, " ", ""))
			if strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

func inputType(n *html.Node) string {
	kind, _ := attrValue(n, "type")
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return "text"
	}
	return kind
}

func isCheckable(n *html.Node) bool {
	if n.DataAtom != atom.Input {
		return false
	}
	kind := inputType(n)
	return kind == "checkbox" || kind == "radio"
}

func isEditable(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Textarea:
		return true
	case atom.Input:
		switch inputType(n) {
		case "checkbox", "radio", "button", "submit", "reset", "image", "file", "hidden", "range", "color":
			return false
		}
		return true
	}
	editable, ok := attrValue(n, "contenteditable")
	return ok && !strings.EqualFold(editable, "false")
}

func editableValue(n *html.Node) string {
	if n.DataAtom == atom.Input {
		value, _ := attrValue(n, "value")
		return value
	}
	return textContent(n)
}

func setEditableValue(n *html.Node, value string) {
	if n.DataAtom == atom.Input {
		setAttr(n, "value", value)
		return
	}
	setTextContent(n, value)
}

func selectedOption(sel *html.Node) *html.Node {
	var first, selected *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && selected == nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Option {
				if first == nil {
					first = c
				}
				if _, ok := attrValue(c, "selected"); ok {
					selected = c
				}
			}
			walk(c)
		}
	}
	walk(sel)
	if selected != nil {
		return selected
	}
	return first
}
