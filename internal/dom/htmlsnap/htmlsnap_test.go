package htmlsnap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

func find(n *schemas.RawNode, pred func(*schemas.RawNode) bool) *schemas.RawNode {
	if n == nil {
		return nil
	}
	if pred(n) {
		return n
	}
	for _, c := range n.Children {
		if f := find(c, pred); f != nil {
			return f
		}
	}
	return nil
}

func TestParse(t *testing.T) {
	doc := `<html><head><title> Login  page </title><script>var x=1;</script></head>
<body>
  <form id="login">
    <input name="email" type="email">
    <input type="hidden" name="csrf" value="t">
    <button type="submit">Sign <b>in</b></button>
  </form>
  <div style="display: none"><a href="/secret">hidden link</a></div>
  <p hidden>gone</p>
</body></html>`

	snap, err := ParseString(doc, "https://app.example.com/login")
	require.NoError(t, err)
	assert.Equal(t, "Login page", snap.Title)
	assert.Equal(t, "https://app.example.com/login", snap.URL)
	require.NotNil(t, snap.Root)
	assert.Equal(t, "html", snap.Root.Tag)

	email := find(snap.Root, func(n *schemas.RawNode) bool { return n.Attributes["name"] == "email" })
	require.NotNil(t, email)
	assert.True(t, email.Visible)
	assert.False(t, email.Box.IsEmpty())

	csrf := find(snap.Root, func(n *schemas.RawNode) bool { return n.Attributes["name"] == "csrf" })
	require.NotNil(t, csrf)
	assert.False(t, csrf.Visible)

	link := find(snap.Root, func(n *schemas.RawNode) bool { return n.Tag == "a" })
	require.NotNil(t, link)
	assert.False(t, link.Visible, "descendants of display:none are not visible")
	assert.True(t, link.Box.IsEmpty())

	button := find(snap.Root, func(n *schemas.RawNode) bool { return n.Tag == "button" })
	require.NotNil(t, button)
	assert.Equal(t, "Sign", button.Text)
	require.Len(t, button.Children, 1)
	assert.Equal(t, "in", button.Children[0].Text)

	script := find(snap.Root, func(n *schemas.RawNode) bool { return n.Tag == "script" })
	require.NotNil(t, script)
	assert.Empty(t, script.Text)
}

func TestParseAssignsUniqueIDs(t *testing.T) {
	snap, err := ParseString(`<html><body><a href="#">a</a><a href="#">b</a><div><button>c</button></div></body></html>`, "about:blank")
	require.NoError(t, err)

	seen := map[int64]bool{}
	var walk func(*schemas.RawNode)
	walk = func(n *schemas.RawNode) {
		assert.False(t, seen[n.NodeID], "duplicate node id %d", n.NodeID)
		seen[n.NodeID] = true
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(snap.Root)
	assert.Greater(t, len(seen), 5)
}
