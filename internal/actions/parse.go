package actions

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/llmutil"
)

const maxRawInError = 300

// Keys with a fixed meaning at the top level of a decision object. Any other
// top-level key is folded into the parameters.
var reservedKeys = map[string]bool{
	"action": true, "name": true, "index": true, "params": true,
	"parameters": true, "reasoning": true, "thought": true,
}

// ParseDecision normalizes a completion into a Decision. Providers with native
// structured output return a bare JSON document; free-text providers have the
// object located inside the text first.
func ParseDecision(c schemas.Completion) (Decision, error) {
	var (
		obj map[string]any
		err error
	)
	if c.Structured {
		err = json.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(strings.TrimSpace(c.Content), &obj)
		if err == nil && obj == nil {
			err = llmutil.ErrNoJSONObject
		}
	} else {
		obj, err = llmutil.DecodeObject(c.Content)
	}
	if err != nil {
		return Decision{}, &DecisionParseError{
			Reason: "response is not a JSON object",
			Raw:    llmutil.Truncate(c.Content, maxRawInError),
			Err:    err,
		}
	}
	return decisionFromObject(obj, c.Content)
}

func decisionFromObject(obj map[string]any, raw string) (Decision, error) {
	fail := func(format string, args ...any) (Decision, error) {
		return Decision{}, &DecisionParseError{
			Reason: fmt.Sprintf(format, args...),
			Raw:    llmutil.Truncate(raw, maxRawInError),
		}
	}

	var d Decision
	name, _ := obj["action"].(string)
	if name == "" {
		name, _ = obj["name"].(string)
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fail("missing \"action\" field")
	}
	d.Action = Name(name)
	if _, ok := Lookup(d.Action); !ok {
		return fail("unknown action %q; expected one of %s", name, joinNames(Names()))
	}

	if rawIdx, ok := obj["index"]; ok && rawIdx != nil {
		i, err := toIndex(rawIdx)
		if err != nil {
			return fail("%v", err)
		}
		d.Index = &i
	}

	d.Params = map[string]string{}
	params, _ := obj["params"].(map[string]any)
	if params == nil {
		params, _ = obj["parameters"].(map[string]any)
	}
	for k, v := range params {
		s, err := scalarString(v)
		if err != nil {
			return fail("parameter %q: %v", k, err)
		}
		d.Params[k] = s
	}
	for k, v := range obj {
		if reservedKeys[k] {
			continue
		}
		if _, exists := d.Params[k]; exists {
			continue
		}
		if s, err := scalarString(v); err == nil {
			d.Params[k] = s
		}
	}
	if len(d.Params) == 0 {
		d.Params = nil
	}

	if r, ok := obj["reasoning"].(string); ok {
		d.Reasoning = r
	} else if r, ok := obj["thought"].(string); ok {
		d.Reasoning = r
	}
	return d, nil
}

func toIndex(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || x < 0 || x > math.MaxInt32 {
			return 0, fmt.Errorf("index %v is not a non-negative integer", x)
		}
		return int(x), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil || i < 0 {
			return 0, fmt.Errorf("index %q is not a non-negative integer", x)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("index has unsupported type %T", v)
	}
}

func scalarString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected a scalar value, got %T", v)
	}
}

func joinNames(names []Name) string {
	s := make([]string, len(names))
	for i, n := range names {
		s[i] = string(n)
	}
	sort.Strings(s)
	return strings.Join(s, ", ")
}
