// Package htmlsnap turns static HTML into the raw snapshot tree a browser
// driver would report. Layout is not computed: visible elements get a unit
// box stacked in document order, hidden ones get an empty box.
package htmlsnap

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

const rowHeight = 20

// Parse reads an HTML document and builds a snapshot for pageURL.
func Parse(r io.Reader, pageURL string) (*schemas.RawSnapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	root := findElement(doc, atom.Html)
	if root == nil {
		return nil, fmt.Errorf("document has no <html> element")
	}

	b := &builder{}
	snap := &schemas.RawSnapshot{
		URL:        pageURL,
		Root:       b.build(root, true),
		CapturedAt: time.Now(),
	}
	if title := findElement(doc, atom.Title); title != nil {
		snap.Title = collapse(textOf(title))
	}
	return snap, nil
}

// ParseString is Parse over an in-memory document.
func ParseString(doc, pageURL string) (*schemas.RawSnapshot, error) {
	return Parse(strings.NewReader(doc), pageURL)
}

type builder struct {
	nextID int64
}

func (b *builder) build(n *html.Node, parentVisible bool) *schemas.RawNode {
	b.nextID++
	node := &schemas.RawNode{
		NodeID:     b.nextID,
		Tag:        strings.ToLower(n.Data),
		Attributes: attributes(n),
	}
	node.Visible = parentVisible && isRendered(n.DataAtom, node.Attributes)
	if node.Visible {
		node.Box = schemas.BoundingBox{X: 0, Y: float64(b.nextID * rowHeight), Width: 100, Height: rowHeight}
	}

	var text []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if t := collapse(c.Data); t != "" {
				text = append(text, t)
			}
		case html.ElementNode:
			node.Children = append(node.Children, b.build(c, node.Visible))
		}
	}
	if n.DataAtom != atom.Script && n.DataAtom != atom.Style {
		node.Text = strings.Join(text, " ")
	}
	return node
}

func isRendered(a atom.Atom, attrs map[string]string) bool {
	switch a {
	case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Title, atom.Meta, atom.Link:
		return false
	}
	if _, hidden := attrs["hidden"]; hidden {
		return false
	}
	if a == atom.Input && strings.EqualFold(attrs["type"], "hidden") {
		return false
	}
	style := strings.ReplaceAll(strings.ToLower(attrs["style"]), " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return false
	}
	return true
}

func attributes(n *html.Node) map[string]string {
	if len(n.Attr) == 0 {
		return nil
	}
	out := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		out[strings.ToLower(a.Key)] = a.Val
	}
	return out
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

func textOf(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			visit(ch)
		}
	}
	visit(n)
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
