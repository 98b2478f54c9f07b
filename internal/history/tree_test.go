package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/surfer-cli/internal/actions"
)

func TestTreeAppendEnforcesContiguousSteps(t *testing.T) {
	tree := NewTree()
	require.NoError(t, tree.Append(Entry{Step: 0, Decision: actions.Decision{Action: actions.Scroll}}))
	require.NoError(t, tree.Append(Entry{Step: 1, Decision: actions.Decision{Action: actions.Done}}))

	err := tree.Append(Entry{Step: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2")
	assert.Equal(t, 2, tree.Len())

	last, ok := tree.Last()
	require.True(t, ok)
	assert.Equal(t, actions.Done, last.Decision.Action)
	assert.False(t, last.Timestamp.IsZero())
}

func TestTreeEntriesAreIsolated(t *testing.T) {
	tree := NewTree()
	params := map[string]string{"text": "hello"}
	require.NoError(t, tree.Append(Entry{Step: 0, Decision: actions.Decision{Action: actions.Type, Index: intPtr(1), Params: params}}))

	// Mutating the caller's map or a returned copy never reaches the tree.
	params["text"] = "changed"
	got := tree.Entries()
	got[0].Decision.Params["text"] = "also changed"
	*got[0].Decision.Index = 9

	again := tree.Entries()
	assert.Equal(t, "hello", again[0].Decision.Params["text"])
	assert.Equal(t, 1, *again[0].Decision.Index)
}

func TestTreeWindowAndReset(t *testing.T) {
	tree := NewTree()
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Append(Entry{Step: i}))
	}

	window := tree.Window(2)
	require.Len(t, window, 2)
	assert.Equal(t, 3, window[0].Step)
	assert.Equal(t, 4, window[1].Step)
	assert.Len(t, tree.Window(10), 5)
	assert.Nil(t, tree.Window(0))

	tree.Reset()
	assert.Equal(t, 0, tree.Len())
	_, ok := tree.Last()
	assert.False(t, ok)
	require.NoError(t, tree.Append(Entry{Step: 0}))
}
