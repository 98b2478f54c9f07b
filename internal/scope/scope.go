// Package scope matches URLs against the domain glob patterns used by the
// allowed-domain policy and by secret bindings.
package scope

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Pattern is a compiled domain pattern. Accepted forms:
//
//	example.com                 exact host
//	*.example.com               example.com and any subdomain
//	https://*.example.com       same, restricted to a scheme
//	https://example.com/app/*   host plus a path prefix
//	*                           every host
type Pattern struct {
	raw    string
	scheme string // Empty matches http and https.
	host   string // Lowercase glob.
	path   string // Empty matches any path.
}

// Compile parses a pattern. Patterns whose wildcard would cover an entire public
// suffix (for example "*.com" or "*.co.uk") are rejected.
func Compile(raw string) (Pattern, error) {
	p := Pattern{raw: raw}
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return p, fmt.Errorf("empty domain pattern")
	}

	if i := strings.Index(s, "://"); i >= 0 {
		p.scheme = s[:i]
		s = s[i+3:]
		if p.scheme == "*" {
			p.scheme = ""
		}
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		p.path = s[i:]
		s = s[:i]
		if p.path == "/" || p.path == "/*" {
			p.path = ""
		}
	}
	// Ports are not part of the policy.
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return p, fmt.Errorf("domain pattern %q has no host", raw)
	}
	if _, err := path.Match(s, "probe"); err != nil {
		return p, fmt.Errorf("invalid domain pattern %q: %w", raw, err)
	}
	p.host = s

	if s != "*" {
		base := strings.TrimPrefix(s, "*.")
		if strings.ContainsAny(base, "*?[") {
			return p, fmt.Errorf("domain pattern %q may only use a leading wildcard label", raw)
		}
		if suffix, _ := publicsuffix.PublicSuffix(base); suffix == base && strings.HasPrefix(s, "*.") {
			return p, fmt.Errorf("domain pattern %q covers the public suffix %q", raw, suffix)
		}
	}
	return p, nil
}

// MustCompile is Compile that panics; intended for tests and static tables.
func MustCompile(raw string) Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern as written.
func (p Pattern) String() string { return p.raw }

// MatchHost reports whether a bare host name matches the pattern's host part.
func (p Pattern) MatchHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	if p.host == "*" {
		return true
	}
	if strings.HasPrefix(p.host, "*.") {
		base := p.host[2:]
		// The bare parent domain is included; suffix checks must sit on a label
		// boundary so "notexample.com" never matches "*.example.com".
		return host == base || strings.HasSuffix(host, "."+base)
	}
	return host == p.host
}

// MatchURL reports whether the absolute URL falls inside the pattern.
func (p Pattern) MatchURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return p.Match(u)
}

// Match is MatchURL for an already parsed URL.
func (p Pattern) Match(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	if p.scheme != "" {
		if scheme != p.scheme {
			return false
		}
	} else if scheme != "http" && scheme != "https" {
		return false
	}
	if !p.MatchHost(u.Hostname()) {
		return false
	}
	if p.path == "" {
		return true
	}
	reqPath := u.EscapedPath()
	if reqPath == "" {
		reqPath = "/"
	}
	if strings.HasSuffix(p.path, "*") {
		return strings.HasPrefix(reqPath, strings.TrimSuffix(p.path, "*"))
	}
	return reqPath == p.path
}

// Allowlist is an ordered set of patterns. The zero value allows everything.
type Allowlist struct {
	patterns []Pattern
}

// NewAllowlist compiles every pattern, failing on the first invalid one.
func NewAllowlist(raw []string) (Allowlist, error) {
	var list Allowlist
	for _, r := range raw {
		p, err := Compile(r)
		if err != nil {
			return Allowlist{}, err
		}
		list.patterns = append(list.patterns, p)
	}
	return list, nil
}

// Empty reports whether no restriction is configured.
func (a Allowlist) Empty() bool { return len(a.patterns) == 0 }

// Patterns returns the configured patterns in order.
func (a Allowlist) Patterns() []string {
	out := make([]string, len(a.patterns))
	for i, p := range a.patterns {
		out[i] = p.raw
	}
	return out
}

// Allows reports whether the URL may be visited.
func (a Allowlist) Allows(raw string) bool {
	if a.Empty() {
		u, err := url.Parse(raw)
		if err != nil {
			return false
		}
		s := strings.ToLower(u.Scheme)
		return s == "http" || s == "https"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	for _, p := range a.patterns {
		if p.Match(u) {
			return true
		}
	}
	return false
}
