package schemas

// -- Primitive Driver Actions --

// PrimitiveKind enumerates the interactions a BrowserDriver can dispatch.
type PrimitiveKind string

const (
	PrimitiveClick   PrimitiveKind = "click"
	PrimitiveType    PrimitiveKind = "type"
	PrimitiveScroll  PrimitiveKind = "scroll"
	PrimitiveGoBack  PrimitiveKind = "go_back"
	PrimitiveExtract PrimitiveKind = "extract"
)

// Locator addresses a node captured in a snapshot.
type Locator struct {
	NodeID int64 `json:"node_id"`
}

// Primitive is a single driver-level instruction.
type Primitive struct {
	Kind      PrimitiveKind `json:"kind"`
	Target    *Locator      `json:"target,omitempty"`    // Nil targets the page (scroll, extract, go_back).
	Text      string        `json:"text,omitempty"`      // Input text for PrimitiveType.
	Direction string        `json:"direction,omitempty"` // "up" or "down" for PrimitiveScroll.
}

// Outcome describes what a dispatched primitive observably did.
type Outcome struct {
	Effect  string `json:"effect"`
	Content string `json:"content,omitempty"` // Extracted content for PrimitiveExtract.
}
