package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/browser"
	"github.com/xkilldash9x/surfer-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/surfer-cli/internal/config"
	"github.com/xkilldash9x/surfer-cli/internal/llmclient"
	"github.com/xkilldash9x/surfer-cli/internal/mocks"
	"github.com/xkilldash9x/surfer-cli/internal/worker"
)

const (
	loginURL  = "https://app.example.com/login"
	loginPage = `<html><head><title>Login</title></head><body>
		<input name="email" type="email"><button>Sign in</button></body></html>`
	doneJSON = `{"action":"done","params":{"summary":"finished"}}`
)

// fakeBrowser hands out in-memory drivers and remembers them.
type fakeBrowser struct {
	mu      sync.Mutex
	pages   map[string]string
	drivers []*browsertest.Driver
}

func (f *fakeBrowser) factory(*browser.Manager) worker.DriverFactory {
	return func(context.Context) (schemas.BrowserDriver, error) {
		d := browsertest.NewDriver(loginURL, f.pages)
		f.mu.Lock()
		f.drivers = append(f.drivers, d)
		f.mu.Unlock()
		return d, nil
	}
}

func (f *fakeBrowser) all() []*browsertest.Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*browsertest.Driver(nil), f.drivers...)
}

// useFakes swaps the model and browser seams for the duration of the test.
func useFakes(t *testing.T, model schemas.ChatModel) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{pages: map[string]string{loginURL: loginPage}}

	origModel, origDriver := newChatModel, newDriverFactory
	newChatModel = func(context.Context, *config.Config, llmclient.CallObserver, *zap.Logger) (schemas.ChatModel, error) {
		return model, nil
	}
	newDriverFactory = fb.factory
	t.Cleanup(func() {
		newChatModel, newDriverFactory = origModel, origDriver
	})
	return fb
}

// scriptModel answers each call with the next response.
func scriptModel(responses ...string) *mocks.MockChatModel {
	m := new(mocks.MockChatModel)
	for _, r := range responses {
		m.On("Complete", mock.Anything, mock.Anything).Return(schemas.Completion{Content: r}, nil).Once()
	}
	return m
}

// constantModel gives the same answer forever.
func constantModel(response string) *mocks.MockChatModel {
	m := new(mocks.MockChatModel)
	m.On("Complete", mock.Anything, mock.Anything).Return(schemas.Completion{Content: response}, nil)
	return m
}

// executeCommand runs root with args and returns what it printed.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
