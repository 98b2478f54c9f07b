// Package actions defines the closed action vocabulary the model may choose
// from, validates model decisions against the current page, and executes
// validated actions through the browser driver.
package actions

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

// Name identifies an action in the closed vocabulary.
type Name string

const (
	Click    Name = "click"
	Type     Name = "type"
	Navigate Name = "navigate"
	GoBack   Name = "go_back"
	Scroll   Name = "scroll"
	Extract  Name = "extract"
	Done     Name = "done"
)

// IndexRule says whether an action addresses an element.
type IndexRule int

const (
	IndexNone IndexRule = iota
	IndexRequired
	IndexOptional
)

// Param describes one action parameter.
type Param struct {
	Name        string
	Required    bool
	Enum        []string // Allowed values, empty for free text.
	Description string
}

// Spec is the schema of a single action.
type Spec struct {
	Name        Name
	Index       IndexRule
	Params      []Param
	Description string
	// Primitive is the driver instruction the action maps to, if any.
	Primitive schemas.PrimitiveKind
	// DefaultTimeout bounds one dispatch attempt.
	DefaultTimeout time.Duration
}

var vocabulary = map[Name]Spec{
	Click: {
		Name:           Click,
		Index:          IndexRequired,
		Description:    "Click the element with the given index.",
		Primitive:      schemas.PrimitiveClick,
		DefaultTimeout: 30 * time.Second,
	},
	Type: {
		Name:  Type,
		Index: IndexRequired,
		Params: []Param{
			{Name: "text", Required: true, Description: "Text to type. Use <secret>name</secret> for credentials."},
		},
		Description:    "Clear the input element with the given index and type text into it.",
		Primitive:      schemas.PrimitiveType,
		DefaultTimeout: 15 * time.Second,
	},
	Navigate: {
		Name:  Navigate,
		Index: IndexNone,
		Params: []Param{
			{Name: "url", Required: true, Description: "Absolute http(s) URL."},
		},
		Description:    "Open a URL in the current tab.",
		DefaultTimeout: 45 * time.Second,
	},
	GoBack: {
		Name:           GoBack,
		Index:          IndexNone,
		Description:    "Go back to the previous page in history.",
		Primitive:      schemas.PrimitiveGoBack,
		DefaultTimeout: 30 * time.Second,
	},
	Scroll: {
		Name:  Scroll,
		Index: IndexOptional,
		Params: []Param{
			{Name: "direction", Required: true, Enum: []string{"up", "down"}},
		},
		Description:    "Scroll the page, or the element with the given index, by one viewport.",
		Primitive:      schemas.PrimitiveScroll,
		DefaultTimeout: 10 * time.Second,
	},
	Extract: {
		Name:           Extract,
		Index:          IndexOptional,
		Description:    "Read the content of the element with the given index, or of the whole page, as Markdown.",
		Primitive:      schemas.PrimitiveExtract,
		DefaultTimeout: 20 * time.Second,
	},
	Done: {
		Name:  Done,
		Index: IndexNone,
		Params: []Param{
			{Name: "summary", Required: true, Description: "Final answer or summary of what was achieved."},
			{Name: "success", Enum: []string{"true", "false"}, Description: "Whether the task was fully achieved."},
		},
		Description: "Finish the task.",
	},
}

// Lookup returns the spec for name.
func Lookup(name Name) (Spec, bool) {
	s, ok := vocabulary[name]
	return s, ok
}

// Names returns every action name, sorted.
func Names() []Name {
	names := make([]Name, 0, len(vocabulary))
	for n := range vocabulary {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Describe renders the vocabulary for a system prompt.
func Describe() string {
	var sb strings.Builder
	for _, n := range Names() {
		s := vocabulary[n]
		fmt.Fprintf(&sb, "- %s", n)
		var args []string
		switch s.Index {
		case IndexRequired:
			args = append(args, "index")
		case IndexOptional:
			args = append(args, "index?")
		}
		for _, p := range s.Params {
			arg := p.Name
			if !p.Required {
				arg += "?"
			}
			if len(p.Enum) > 0 {
				arg += "=" + strings.Join(p.Enum, "|")
			}
			args = append(args, arg)
		}
		fmt.Fprintf(&sb, "(%s): %s", strings.Join(args, ", "), s.Description)
		for _, p := range s.Params {
			if p.Description != "" {
				fmt.Fprintf(&sb, " %s: %s", p.Name, p.Description)
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// -- Decisions and Results --

// Decision is the model's structured output for one step.
type Decision struct {
	Action    Name              `json:"action"`
	Index     *int              `json:"index,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Reasoning string            `json:"reasoning,omitempty"` // Logged only, never acted on.
}

// Param returns a parameter value, or "" when absent.
func (d Decision) Param(name string) string {
	return d.Params[name]
}

// Result is the immutable outcome of executing one action.
type Result struct {
	Success   bool              `json:"success"`
	ErrorKind schemas.ErrorKind `json:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty"`
	Effect    string            `json:"effect"`
	Content   string            `json:"content,omitempty"` // Extracted content, if any.
	Attempts  int               `json:"attempts"`
	Duration  time.Duration     `json:"duration"`
}
