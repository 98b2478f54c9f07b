package history

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/dom/htmlsnap"
)

func indexFromHTML(t *testing.T, doc, url string) *dom.ElementIndex {
	t.Helper()
	snap, err := htmlsnap.ParseString(doc, url)
	require.NoError(t, err)
	return dom.Build(snap)
}

func intPtr(i int) *int { return &i }
