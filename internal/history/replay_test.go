package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/scope"
	"github.com/xkilldash9x/surfer-cli/internal/vault"
)

const (
	loginURL = "https://app.example.com/login"
	loginV1  = `<html><body><input name="email" type="email"><button id="go">Go</button></body></html>`
	// A banner link was added, shifting every index by one.
	loginV2 = `<html><body><a href="/help">Help</a><input name="email" type="email"><button id="go">Go</button></body></html>`
)

type replayFixture struct {
	driver   *browsertest.Driver
	replayer *Replayer
}

func newReplayFixture(t *testing.T, page string, v *vault.Vault) replayFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	driver := browsertest.NewDriver(loginURL, map[string]string{loginURL: page})
	indexer := dom.NewIndexer(driver, logger, time.Millisecond)
	allow, err := scope.NewAllowlist([]string{"*.example.com"})
	require.NoError(t, err)
	controller := actions.NewController(driver, indexer, actions.DefaultControllerConfig(), logger)

	var unredactor Unredactor
	if v != nil {
		unredactor = v
	}
	return replayFixture{
		driver:   driver,
		replayer: NewReplayer(indexer, actions.NewValidator(allow), controller, unredactor, logger),
	}
}

func loginRecords(t *testing.T, v *vault.Vault) []Record {
	t.Helper()
	idx := indexFromHTML(t, loginV1, loginURL)
	tree := NewTree()
	require.NoError(t, tree.Append(Entry{Step: 0, Index: idx,
		Decision: actions.Decision{Action: actions.Type, Index: intPtr(0), Params: map[string]string{"text": vault.Token("user")}},
		Result:   actions.Result{Success: true}}))
	require.NoError(t, tree.Append(Entry{Step: 1, Index: idx,
		Decision: actions.Decision{Action: actions.Navigate, Params: map[string]string{"url": "https://evil.example/"}},
		Result:   actions.Result{ErrorKind: schemas.ErrKindDomainNotAllowed}}))
	require.NoError(t, tree.Append(Entry{Step: 2, Index: idx,
		Decision: actions.Decision{Action: actions.Click, Index: intPtr(1)},
		Result:   actions.Result{Success: true}}))
	require.NoError(t, tree.Append(Entry{Step: 3, Index: idx,
		Decision: actions.Decision{Action: actions.Done, Params: map[string]string{"summary": "ok"}},
		Result:   actions.Result{Success: true}}))
	return Export(tree, v, ExportOptions{})
}

func TestReplayReresolvesShiftedTargets(t *testing.T) {
	v, err := vault.New(vault.Bindings{"*.example.com": {"user": "alice@example.com"}})
	require.NoError(t, err)
	fx := newReplayFixture(t, loginV2, v)

	steps, err := fx.replayer.Replay(context.Background(), loginRecords(t, v), ReplayOptions{})
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.True(t, steps[1].Skipped)
	for _, i := range []int{0, 2, 3} {
		assert.True(t, steps[i].Result.Success, "step %d: %s", i, steps[i].Result.Error)
	}

	typed := fx.driver.Typed()
	require.Len(t, typed, 1)
	assert.Equal(t, "email", typed[0].Name)
	assert.Equal(t, "alice@example.com", typed[0].Text)

	// The click landed on the button, now at index 2, not on the new link.
	live := indexFromHTML(t, loginV2, loginURL)
	button, ok := live.Get(2)
	require.True(t, ok)
	require.Equal(t, "button", button.Tag)
	dispatched := fx.driver.Dispatched()
	require.Len(t, dispatched, 2)
	assert.Equal(t, schemas.PrimitiveClick, dispatched[1].Kind)
	assert.Equal(t, button.NodeID, dispatched[1].Target.NodeID)
	assert.Equal(t, []string(nil), fx.driver.Navigations())
}

func TestReplayMissingTarget(t *testing.T) {
	noButton := `<html><body><input name="email" type="email"></body></html>`

	t.Run("stops without skip", func(t *testing.T) {
		fx := newReplayFixture(t, noButton, nil)
		steps, err := fx.replayer.Replay(context.Background(), loginRecords(t, nil), ReplayOptions{})
		require.Error(t, err)
		var staleErr *actions.StaleElementError
		assert.ErrorAs(t, err, &staleErr)
		require.Len(t, steps, 3)
		assert.Equal(t, schemas.ErrKindStaleElement, steps[2].Result.ErrorKind)
	})

	t.Run("continues with skip", func(t *testing.T) {
		fx := newReplayFixture(t, noButton, nil)
		steps, err := fx.replayer.Replay(context.Background(), loginRecords(t, nil), ReplayOptions{SkipFailures: true})
		require.NoError(t, err)
		require.Len(t, steps, 4)
		assert.False(t, steps[2].Result.Success)
		assert.True(t, steps[3].Result.Success)
	})
}

func TestReplayHonorsCancellation(t *testing.T) {
	fx := newReplayFixture(t, loginV1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	steps, err := fx.replayer.Replay(ctx, loginRecords(t, nil), ReplayOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, steps)
	assert.Empty(t, fx.driver.Dispatched())
}
