package dom

import (
	"strings"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

// NoParent marks an element whose nearest indexed ancestor does not exist.
const NoParent = -1

// ElementNode is one addressable element of a snapshot.
type ElementNode struct {
	Index       int                 `json:"index"`  // Snapshot-local address the model refers to.
	NodeID      int64               `json:"nodeId"` // Driver locator handle.
	Tag         string              `json:"tag"`
	Attributes  map[string]string   `json:"attributes,omitempty"`
	Text        string              `json:"text,omitempty"`
	Box         schemas.BoundingBox `json:"box"`
	Visible     bool                `json:"visible"`
	Interactive bool                `json:"interactive"`
	Parent      int                 `json:"parent"`             // Nearest indexed ancestor, or NoParent. Lookup only.
	Children    []int               `json:"children,omitempty"` // Indexed descendants whose nearest indexed ancestor is this node.
	// AncestorPath lists the tag names from the document root down to the
	// direct parent. It feeds the similarity key.
	AncestorPath []string `json:"ancestorPath,omitempty"`
}

// Attr returns an attribute value, or "" when absent.
func (n ElementNode) Attr(name string) string {
	return n.Attributes[name]
}

// IsTextInput reports whether typing into the element makes sense.
func (n ElementNode) IsTextInput() bool {
	switch n.Tag {
	case "textarea":
		return true
	case "input":
		switch strings.ToLower(n.Attr("type")) {
		case "", "text", "email", "password", "search", "tel", "url", "number", "date", "datetime-local", "month", "time", "week":
			return true
		}
		return false
	}
	if ce, ok := n.Attributes["contenteditable"]; ok && (ce == "" || strings.EqualFold(ce, "true")) {
		return true
	}
	role := strings.ToLower(n.Attr("role"))
	return role == "textbox" || role == "searchbox" || role == "combobox"
}

func (n ElementNode) clone() ElementNode {
	c := n
	if n.Attributes != nil {
		c.Attributes = make(map[string]string, len(n.Attributes))
		for k, v := range n.Attributes {
			c.Attributes[k] = v
		}
	}
	c.Children = append([]int(nil), n.Children...)
	c.AncestorPath = append([]string(nil), n.AncestorPath...)
	return c
}

func hasAttr(attrs map[string]string, name string) bool {
	_, ok := attrs[name]
	return ok
}

// -- Interactivity Allow-List --

var interactiveTags = map[string]bool{
	"a":        true, // Only with href.
	"button":   true,
	"input":    true,
	"textarea": true,
	"select":   true,
	"summary":  true,
	"details":  true,
	"option":   true,
}

var interactiveRoles = map[string]bool{
	"button":           true,
	"link":             true,
	"tab":              true,
	"menuitem":         true,
	"menuitemcheckbox": true,
	"menuitemradio":    true,
	"checkbox":         true,
	"radio":            true,
	"switch":           true,
	"option":           true,
	"textbox":          true,
	"searchbox":        true,
	"combobox":         true,
	"slider":           true,
	"spinbutton":       true,
	"treeitem":         true,
}

// isInteractive decides whether a raw node is clickable, typeable, or otherwise
// semantically actionable.
func isInteractive(n *schemas.RawNode) bool {
	if isDisabled(n.Attributes) {
		return false
	}
	tag := n.Tag
	switch tag {
	case "a":
		if hasAttr(n.Attributes, "href") {
			return true
		}
	case "input":
		return !strings.EqualFold(n.Attributes["type"], "hidden") && !hasAttr(n.Attributes, "readonly")
	case "textarea":
		return !hasAttr(n.Attributes, "readonly")
	default:
		if interactiveTags[tag] {
			return true
		}
	}
	if role := strings.ToLower(n.Attributes["role"]); interactiveRoles[role] {
		return true
	}
	if ce, ok := n.Attributes["contenteditable"]; ok && (ce == "" || strings.EqualFold(ce, "true")) {
		return true
	}
	if hasAttr(n.Attributes, "onclick") {
		return true
	}
	if ti, ok := n.Attributes["tabindex"]; ok && !strings.HasPrefix(strings.TrimSpace(ti), "-") {
		return true
	}
	return false
}

func isDisabled(attrs map[string]string) bool {
	if hasAttr(attrs, "disabled") {
		return true
	}
	return strings.EqualFold(attrs["aria-disabled"], "true")
}
