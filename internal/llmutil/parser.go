// Package llmutil holds helpers for turning free-form model output into
// machine-readable data.
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	json "github.com/json-iterator/go"
)

// ErrNoJSONObject is returned when a response contains no object-shaped text.
var ErrNoJSONObject = errors.New("response contains no JSON object")

// fencedObjectRegex extracts an object wrapped in a markdown code fence.
// \x60 is a backtick, which raw strings cannot contain.
var fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(\\{.*?\\})\\s*\x60\x60\x60")

var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// ExtractJSONObject locates the JSON object inside a model response. It handles
// bare objects, objects in a markdown fence, and objects embedded in
// conversational text (first '{' through the last '}').
func ExtractJSONObject(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", ErrNoJSONObject
	}
	if strings.HasPrefix(response, "{") && strings.HasSuffix(response, "}") {
		return response, nil
	}
	if m := fencedObjectRegex.FindStringSubmatch(response); len(m) > 1 {
		return m[1], nil
	}
	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first == -1 || last <= first {
		return "", ErrNoJSONObject
	}
	return response[first : last+1], nil
}

// DecodeObject extracts and unmarshals the JSON object in response into a map.
func DecodeObject(response string) (map[string]any, error) {
	raw, err := ExtractJSONObject(response)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := jsonAPI.UnmarshalFromString(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON: %w (extracted: %s)", err, Truncate(raw, 200))
	}
	if out == nil {
		return nil, ErrNoJSONObject
	}
	return out, nil
}

// Truncate cuts s to at most maxRunes runes, appending "..." when cut.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes]) + "..."
}
