package dom

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

const (
	// maxTextLength bounds the visible label rendered per element.
	maxTextLength = 64
	// maxAttrRenderLength bounds attribute values rendered for the model.
	maxAttrRenderLength = 80
)

// renderedAttributes are shown to the model next to each element, in this order.
var renderedAttributes = []string{"type", "name", "role", "aria-label", "placeholder", "title", "alt", "href", "value"}

// skippedTags never contribute indexed elements or text.
var skippedTags = map[string]bool{
	"head": true, "script": true, "style": true, "noscript": true, "template": true,
}

// ElementIndex is the immutable, flattened set of addressable elements of one
// snapshot. Lookup by index is O(1).
type ElementIndex struct {
	url        string
	title      string
	capturedAt time.Time
	nodes      []ElementNode
	keys       []string
	byKey      map[string][]int
}

// Build flattens a raw snapshot. Elements that are visible (non-empty box and
// computed visible) and interactive receive indices 0..n-1 in document pre-order,
// so index order follows document order.
func Build(snap *schemas.RawSnapshot) *ElementIndex {
	idx := &ElementIndex{byKey: make(map[string][]int)}
	if snap == nil {
		return idx
	}
	idx.url = snap.URL
	idx.title = snap.Title
	idx.capturedAt = snap.CapturedAt
	if snap.Root != nil {
		idx.walk(snap.Root, nil, NoParent)
	}
	for i := range idx.nodes {
		key := SimilarityKey(idx.nodes[i])
		idx.keys = append(idx.keys, key)
		idx.byKey[key] = append(idx.byKey[key], i)
	}
	return idx
}

// NewElementIndex assembles an index from already flattened nodes. Node i must
// carry Index i. Used when restoring exported state and in tests.
func NewElementIndex(url, title string, nodes []ElementNode) (*ElementIndex, error) {
	idx := &ElementIndex{url: url, title: title, byKey: make(map[string][]int)}
	for i, n := range nodes {
		if n.Index != i {
			return nil, fmt.Errorf("node at position %d carries index %d", i, n.Index)
		}
		c := n.clone()
		if c.Parent >= i {
			return nil, fmt.Errorf("node %d has parent %d that does not precede it", i, c.Parent)
		}
		idx.nodes = append(idx.nodes, c)
		key := SimilarityKey(c)
		idx.keys = append(idx.keys, key)
		idx.byKey[key] = append(idx.byKey[key], i)
	}
	return idx, nil
}

func (idx *ElementIndex) walk(n *schemas.RawNode, path []string, parent int) {
	if n == nil || skippedTags[n.Tag] {
		return
	}
	next := parent
	if n.Visible && !n.Box.IsEmpty() && isInteractive(n) {
		i := len(idx.nodes)
		node := ElementNode{
			Index:        i,
			NodeID:       n.NodeID,
			Tag:          n.Tag,
			Attributes:   copyAttrs(n.Attributes),
			Text:         subtreeText(n),
			Box:          n.Box,
			Visible:      true,
			Interactive:  true,
			Parent:       parent,
			AncestorPath: append([]string(nil), path...),
		}
		idx.nodes = append(idx.nodes, node)
		if parent != NoParent {
			idx.nodes[parent].Children = append(idx.nodes[parent].Children, i)
		}
		next = i
	}
	childPath := append(path[:len(path):len(path)], n.Tag)
	for _, c := range n.Children {
		idx.walk(c, childPath, next)
	}
}

// -- Accessors --

// URL of the page the snapshot was taken from.
func (idx *ElementIndex) URL() string { return idx.url }

// Title of the page the snapshot was taken from.
func (idx *ElementIndex) Title() string { return idx.title }

// CapturedAt is the time the underlying snapshot was taken.
func (idx *ElementIndex) CapturedAt() time.Time { return idx.capturedAt }

// Len returns the number of indexed elements.
func (idx *ElementIndex) Len() int { return len(idx.nodes) }

// Get returns a copy of the element at index i.
func (idx *ElementIndex) Get(i int) (ElementNode, bool) {
	if i < 0 || i >= len(idx.nodes) {
		return ElementNode{}, false
	}
	return idx.nodes[i].clone(), true
}

// Nodes returns copies of all elements in index order.
func (idx *ElementIndex) Nodes() []ElementNode {
	out := make([]ElementNode, len(idx.nodes))
	for i := range idx.nodes {
		out[i] = idx.nodes[i].clone()
	}
	return out
}

// Key returns the similarity key of element i.
func (idx *ElementIndex) Key(i int) string {
	if i < 0 || i >= len(idx.keys) {
		return ""
	}
	return idx.keys[i]
}

// -- Rendering --

// Render produces the textual element list given to the model, one element per
// line, indented under its nearest indexed ancestor.
func (idx *ElementIndex) Render() string {
	var sb strings.Builder
	for i := range idx.nodes {
		idx.renderNode(&sb, &idx.nodes[i])
	}
	return sb.String()
}

// RenderNode renders a single element the same way Render does, without indentation.
func (idx *ElementIndex) RenderNode(i int) string {
	if i < 0 || i >= len(idx.nodes) {
		return ""
	}
	var sb strings.Builder
	writeElement(&sb, &idx.nodes[i])
	return sb.String()
}

// Summary is Render prefixed with page metadata.
func (idx *ElementIndex) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\nTitle: %s\n", idx.url, idx.title)
	if len(idx.nodes) == 0 {
		sb.WriteString("No interactive elements found on the page.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Interactive elements (%d):\n", len(idx.nodes))
	sb.WriteString(idx.Render())
	return sb.String()
}

func (idx *ElementIndex) renderNode(sb *strings.Builder, n *ElementNode) {
	depth := 0
	for p := n.Parent; p != NoParent; p = idx.nodes[p].Parent {
		depth++
	}
	sb.WriteString(strings.Repeat("\t", depth))
	writeElement(sb, n)
	sb.WriteByte('\n')
}

func writeElement(sb *strings.Builder, n *ElementNode) {
	fmt.Fprintf(sb, "[%d]<%s", n.Index, n.Tag)
	for _, attr := range renderedAttributes {
		val, ok := n.Attributes[attr]
		if !ok || val == "" {
			continue
		}
		fmt.Fprintf(sb, " %s=%q", attr, truncateRunes(val, maxAttrRenderLength))
	}
	sb.WriteString(">")
	sb.WriteString(n.Text)
	fmt.Fprintf(sb, "</%s>", n.Tag)
}

// -- Helpers --

func copyAttrs(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// subtreeText collects the collapsed text of a node and its descendants,
// bounded to maxTextLength runes.
func subtreeText(n *schemas.RawNode) string {
	var sb strings.Builder
	var visit func(*schemas.RawNode) bool
	visit = func(c *schemas.RawNode) bool {
		if c == nil || skippedTags[c.Tag] {
			return true
		}
		if c.Text != "" {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(c.Text)
			if utf8.RuneCountInString(sb.String()) > maxTextLength {
				return false
			}
		}
		for _, child := range c.Children {
			if !visit(child) {
				return false
			}
		}
		return true
	}
	visit(n)
	text := strings.Join(strings.Fields(sb.String()), " ")
	return truncateRunes(text, maxTextLength)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "..."
}
