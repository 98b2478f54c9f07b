package actions

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/scope"
)

// Action is a decision that passed validation against one ElementIndex.
type Action struct {
	Name   Name
	Spec   Spec
	Target *dom.ElementNode // Resolved element, nil for page-level actions.
	Params map[string]string
}

// Param returns a parameter value, or "" when absent.
func (a Action) Param(name string) string { return a.Params[name] }

// Validator checks decisions against the action schema, the current page and
// the allowed-domain policy. It never touches the browser.
type Validator struct {
	allow scope.Allowlist
}

// NewValidator creates a Validator enforcing allow for navigation.
func NewValidator(allow scope.Allowlist) *Validator {
	return &Validator{allow: allow}
}

// Validate turns a decision into an executable Action. It fails with
// *DecisionParseError for names outside the vocabulary, *ValidationError for
// index or parameter problems, and *DomainNotAllowedError for navigation
// outside the allow-list.
func (v *Validator) Validate(d Decision, idx *dom.ElementIndex) (Action, error) {
	spec, ok := Lookup(d.Action)
	if !ok {
		return Action{}, &DecisionParseError{Reason: fmt.Sprintf("unknown action %q", d.Action)}
	}
	a := Action{Name: d.Action, Spec: spec, Params: copyParams(d.Params)}

	switch {
	case spec.Index == IndexRequired && d.Index == nil:
		return Action{}, &ValidationError{Action: d.Action, Reason: "an element index is required"}
	case spec.Index != IndexNone && d.Index != nil:
		node, err := resolveIndex(d.Action, *d.Index, idx)
		if err != nil {
			return Action{}, err
		}
		a.Target = &node
	}
	if d.Action == Type && a.Target != nil && !a.Target.IsTextInput() {
		return Action{}, &ValidationError{
			Action: d.Action,
			Reason: fmt.Sprintf("element %d (%s) does not accept text input", a.Target.Index, a.Target.Tag),
		}
	}

	for _, p := range spec.Params {
		val := strings.TrimSpace(a.Params[p.Name])
		if val == "" {
			if p.Required {
				return Action{}, &ValidationError{Action: d.Action, Reason: fmt.Sprintf("parameter %q is required", p.Name)}
			}
			continue
		}
		if len(p.Enum) > 0 {
			val = strings.ToLower(val)
			if !contains(p.Enum, val) {
				return Action{}, &ValidationError{
					Action: d.Action,
					Reason: fmt.Sprintf("parameter %q must be one of %s, got %q", p.Name, strings.Join(p.Enum, "|"), val),
				}
			}
			a.Params[p.Name] = val
		}
	}

	if d.Action == Navigate {
		if err := v.checkURL(a.Param("url")); err != nil {
			return Action{}, err
		}
	}
	return a, nil
}

func resolveIndex(action Name, i int, idx *dom.ElementIndex) (dom.ElementNode, error) {
	if idx == nil || idx.Len() == 0 {
		return dom.ElementNode{}, &ValidationError{Action: action, Reason: fmt.Sprintf("index %d does not exist: the page has no interactive elements", i)}
	}
	node, ok := idx.Get(i)
	if !ok {
		return dom.ElementNode{}, &ValidationError{
			Action: action,
			Reason: fmt.Sprintf("index %d does not exist; valid indices are 0-%d", i, idx.Len()-1),
		}
	}
	if !node.Interactive {
		return dom.ElementNode{}, &ValidationError{Action: action, Reason: fmt.Sprintf("element %d is not interactive", i)}
	}
	return node, nil
}

func (v *Validator) checkURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ValidationError{Action: Navigate, Reason: fmt.Sprintf("%q is not an absolute URL", raw)}
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return &ValidationError{Action: Navigate, Reason: fmt.Sprintf("scheme %q is not supported", u.Scheme)}
	}
	if !v.allow.Allows(u.String()) {
		return &DomainNotAllowedError{URL: u.String(), Allowed: v.allow.Patterns()}
	}
	return nil
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
