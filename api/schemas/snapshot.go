package schemas

import "time"

// -- Snapshot Schemas --

// BoundingBox is the layout rectangle of a node in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsEmpty reports whether the box has no renderable area.
func (b BoundingBox) IsEmpty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// RawNode is one element of the tree returned by BrowserDriver.Snapshot.
type RawNode struct {
	NodeID     int64             `json:"id"`              // Driver-assigned handle, valid for one snapshot.
	Tag        string            `json:"tag"`             // Lowercase tag name.
	Attributes map[string]string `json:"attrs,omitempty"` // Raw attributes as reported by the page.
	Text       string            `json:"text,omitempty"`  // Direct, whitespace-collapsed text content.
	Box        BoundingBox       `json:"box"`
	Visible    bool              `json:"visible"` // Computed visibility (display, visibility, opacity).
	Children   []*RawNode        `json:"children,omitempty"`
}

// RawSnapshot is a single capture of a page.
type RawSnapshot struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Root       *RawNode  `json:"root"`
	CapturedAt time.Time `json:"captured_at"`
}
