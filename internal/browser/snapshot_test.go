package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
)

const sampleSnapshot = `{
	"url": "https://app.example.com/login",
	"title": "Sign in",
	"root": {"id": 1, "tag": "html", "visible": true, "box": {"x": 0, "y": 0, "width": 1280, "height": 900}, "children": [
		{"id": 2, "tag": "body", "visible": true, "box": {"x": 0, "y": 0, "width": 1280, "height": 900}, "children": [
			{"id": 3, "tag": "input", "attrs": {"name": "email", "type": "email"}, "visible": true, "box": {"x": 10, "y": 10, "width": 200, "height": 24}},
			{"id": 4, "tag": "button", "text": "Sign in", "visible": true, "box": {"x": 10, "y": 40, "width": 80, "height": 24}},
			{"id": 5, "tag": "button", "text": "Hidden", "visible": false, "box": {"x": 0, "y": 0, "width": 0, "height": 0}}
		]}
	]}
}`

func TestDecodeSnapshot(t *testing.T) {
	snap, err := decodeSnapshot(sampleSnapshot)
	require.NoError(t, err)

	assert.Equal(t, "https://app.example.com/login", snap.URL)
	assert.Equal(t, "Sign in", snap.Title)
	require.NotNil(t, snap.Root)
	require.Len(t, snap.Root.Children, 1)
	body := snap.Root.Children[0]
	require.Len(t, body.Children, 3)
	assert.Equal(t, "email", body.Children[0].Attributes["name"])
	assert.Equal(t, int64(4), body.Children[1].NodeID)

	idx := dom.Build(snap)
	require.Equal(t, 2, idx.Len(), "the hidden button is not indexed")
	button, ok := idx.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(4), button.NodeID)
}

func TestDecodeSnapshotErrors(t *testing.T) {
	_, err := decodeSnapshot(`not json`)
	assert.Error(t, err)

	_, err = decodeSnapshot(`{"url": "https://example.com/"}`)
	assert.Error(t, err)
}

func TestSelector(t *testing.T) {
	assert.Equal(t, `[data-surfer-node="42"]`, selector(&schemas.Locator{NodeID: 42}))
}

func TestIsNavigationError(t *testing.T) {
	assert.True(t, isNavigationError(errors.New("exception: Execution context was destroyed, most likely because of a navigation")))
	assert.True(t, isNavigationError(errors.New("Cannot find context with specified id (-32000)")))
	assert.False(t, isNavigationError(errors.New("node not found")))
	assert.False(t, isNavigationError(nil))
}
