package actions

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/dom/htmlsnap"
)

// tenButtons renders a page with exactly ten indexed elements (0-9).
const tenButtons = `<html><body>
<input name="q" type="search">
<button>b1</button><button>b2</button><button name="target">b3</button><button>b4</button>
<button>b5</button><button>b6</button><button>b7</button><button>b8</button>
<a href="/next">next</a>
</body></html>`

func indexFromHTML(t *testing.T, doc, url string) *dom.ElementIndex {
	t.Helper()
	snap, err := htmlsnap.ParseString(doc, url)
	require.NoError(t, err)
	return dom.Build(snap)
}

func intPtr(i int) *int { return &i }
