package dom

import (
	"fmt"
	"hash"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// stableAttributes are the attributes that identify an element across
// snapshots. Values that change with interaction (value, checked) are left out.
var stableAttributes = []string{
	"action", "alt", "aria-label", "data-testid", "for", "href", "id",
	"method", "name", "placeholder", "role", "title", "type",
}

const maxKeyAttrLen = 128

var hasherPool = sync.Pool{
	New: func() any { return fnv.New64a() },
}

// anchorAttributes identify an element well enough that its classes are not
// needed in the key.
var anchorAttributes = []string{"id", "name", "data-testid", "aria-label", "href"}

// stateClasses toggle with interaction and never take part in identity.
var stateClasses = map[string]bool{
	"active": true, "checked": true, "collapsed": true, "current": true,
	"disabled": true, "expanded": true, "focus": true, "focused": true,
	"hidden": true, "hover": true, "in": true, "open": true, "opened": true,
	"selected": true, "show": true, "shown": true, "visible": true,
}

// SimilarityKey is the cross-snapshot identity of an element: its tag, the
// stable attribute subset, the ancestor tag path and, for elements without an
// anchor attribute, their stable classes. Two elements in different snapshots
// are the same element iff their keys are equal.
func SimilarityKey(n ElementNode) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(n.AncestorPath, "/"))
	sb.WriteString(">")
	sb.WriteString(n.Tag)

	if stable := stableClasses(n); len(stable) > 0 {
		sb.WriteString("." + strings.Join(stable, "."))
	}

	for _, attr := range stableAttributes {
		val, ok := n.Attributes[attr]
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) > maxKeyAttrLen {
			val = truncateBytes(val, maxKeyAttrLen)
		}
		fmt.Fprintf(&sb, "[%s=%q]", attr, val)
	}
	return sb.String()
}

func stableClasses(n ElementNode) []string {
	for _, attr := range anchorAttributes {
		if strings.TrimSpace(n.Attributes[attr]) != "" {
			return nil
		}
	}
	cls := n.Attributes["class"]
	if cls == "" {
		return nil
	}
	classes := strings.Fields(cls)
	sort.Strings(classes)
	var stable []string
	for _, c := range classes {
		lc := strings.ToLower(c)
		if stateClasses[lc] || strings.HasPrefix(lc, "is-") || strings.HasPrefix(lc, "has-") {
			continue
		}
		// Short classes containing digits are usually generated CSS-in-JS hashes.
		if len(c) <= 5 && strings.ContainsAny(c, "0123456789") {
			continue
		}
		stable = append(stable, c)
	}
	if len(stable) >= 5 {
		return nil
	}
	return stable
}

// KeyHash is a compact fingerprint of SimilarityKey, used in exported records.
func KeyHash(n ElementNode) string {
	h := hasherPool.Get().(hash.Hash64)
	defer func() {
		h.Reset()
		hasherPool.Put(h)
	}()
	_, _ = h.Write([]byte(SimilarityKey(n)))
	return strconv.FormatUint(h.Sum64(), 16)
}

// truncateBytes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
