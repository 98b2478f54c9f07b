// Package vault keeps run-scoped secrets and swaps them for opaque
// placeholder tokens at the boundary toward the model.
package vault

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xkilldash9x/surfer-cli/internal/scope"
)

const (
	tokenOpen  = "<secret>"
	tokenClose = "</secret>"
)

var placeholderName = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Token returns the placeholder token the model sees for a secret name.
func Token(name string) string {
	return tokenOpen + name + tokenClose
}

// Bindings maps a domain pattern to placeholder names and their real values.
type Bindings map[string]map[string]string

type binding struct {
	pattern scope.Pattern
	secrets map[string]string
}

// Vault holds the secret bindings for one agent run. It is safe for concurrent
// use because it is immutable after construction. It never logs or persists
// real values.
type Vault struct {
	bindings []binding
	// all redacts every registered value regardless of domain.
	all *strings.Replacer
}

// New validates the bindings and builds a Vault. Empty values and names outside
// [A-Za-z0-9_.-] are rejected. A placeholder name may appear under several
// patterns only if it carries the same value in each, so a token always
// unredacts to the value it was redacted from.
func New(b Bindings) (*Vault, error) {
	v := &Vault{}
	patterns := make([]string, 0, len(b))
	for p := range b {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	var allPairs []pair
	owners := map[string]string{}
	for _, raw := range patterns {
		pattern, err := scope.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid secret binding: %w", err)
		}
		secrets := make(map[string]string, len(b[raw]))
		for name, value := range b[raw] {
			if !placeholderName.MatchString(name) {
				return nil, fmt.Errorf("invalid placeholder name %q for %q", name, raw)
			}
			if value == "" {
				return nil, fmt.Errorf("placeholder %q for %q has an empty value", name, raw)
			}
			if prev, ok := owners[name]; ok && b[prev][name] != value {
				return nil, fmt.Errorf("placeholder %q is bound to different values for %q and %q", name, prev, raw)
			}
			if _, ok := owners[name]; !ok {
				owners[name] = raw
			}
			secrets[name] = value
			allPairs = append(allPairs, pair{name: name, value: value})
		}
		v.bindings = append(v.bindings, binding{pattern: pattern, secrets: secrets})
	}
	v.all = redactor(allPairs)
	return v, nil
}

// Empty reports whether the vault holds no secrets.
func (v *Vault) Empty() bool {
	return v == nil || len(v.bindings) == 0
}

// Placeholders lists, sorted, the placeholder names usable on pageURL.
func (v *Vault) Placeholders(pageURL string) []string {
	var names []string
	for _, p := range v.matching(pageURL) {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// Redact replaces every real value bound to a pattern matching pageURL with its
// placeholder token.
func (v *Vault) Redact(text, pageURL string) string {
	if v.Empty() || text == "" {
		return text
	}
	return redactor(v.matching(pageURL)).Replace(text)
}

// RedactAll replaces every registered value, whatever its domain. It is the
// filter for anything leaving the process: prompts, logs and exports.
func (v *Vault) RedactAll(text string) string {
	if v.Empty() || text == "" {
		return text
	}
	return v.all.Replace(text)
}

// Unredact is the inverse of Redact: placeholder tokens bound to a pattern
// matching pageURL become real values. Tokens for other domains are left as is.
func (v *Vault) Unredact(text, pageURL string) string {
	if v.Empty() || !strings.Contains(text, tokenOpen) {
		return text
	}
	pairs := v.matching(pageURL)
	if len(pairs) == 0 {
		return text
	}
	oldnew := make([]string, 0, 2*len(pairs))
	for _, p := range pairs {
		oldnew = append(oldnew, Token(p.name), p.value)
	}
	return strings.NewReplacer(oldnew...).Replace(text)
}

type pair struct {
	name  string
	value string
}

// matching returns the secrets usable on pageURL. When two matching patterns
// bind the same name, the lexically first pattern wins.
func (v *Vault) matching(pageURL string) []pair {
	if v.Empty() {
		return nil
	}
	var out []pair
	taken := map[string]bool{}
	for _, b := range v.bindings {
		if !b.pattern.MatchURL(pageURL) {
			continue
		}
		names := make([]string, 0, len(b.secrets))
		for n := range b.secrets {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if taken[n] {
				continue
			}
			taken[n] = true
			out = append(out, pair{name: n, value: b.secrets[n]})
		}
	}
	return out
}

// redactor builds a single-pass replacer. Longer values go first so a secret
// that contains another is replaced whole; single pass keeps inserted tokens
// from being rescanned.
func redactor(pairs []pair) *strings.Replacer {
	sorted := append([]pair(nil), pairs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].value) > len(sorted[j].value)
	})
	oldnew := make([]string, 0, 2*len(sorted))
	seen := map[string]bool{}
	for _, p := range sorted {
		if seen[p.value] {
			continue
		}
		seen[p.value] = true
		oldnew = append(oldnew, p.value, Token(p.name))
	}
	return strings.NewReplacer(oldnew...)
}
