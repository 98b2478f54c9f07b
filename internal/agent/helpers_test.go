package agent_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/agent"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/dom/htmlsnap"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/mocks"
)

const (
	appURL   = "https://app.example.com/"
	loginURL = "https://app.example.com/login"
)

// tenButtons renders ten buttons; element [i] is "Button i".
func tenButtons() string {
	var sb strings.Builder
	sb.WriteString("<html><head><title>Buttons</title></head><body>")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, `<button id="b%d">Button %d</button>`, i, i)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func testConfig() agent.Config {
	cfg := agent.DefaultConfig()
	cfg.MaxSteps = 10
	cfg.HistoryWindow = 4
	cfg.CaptureRetryDelay = time.Millisecond
	cfg.Controller = actions.ControllerConfig{MaxRetries: 1}
	return cfg
}

func indexFromHTML(t *testing.T, doc, url string) *dom.ElementIndex {
	t.Helper()
	snap, err := htmlsnap.ParseString(doc, url)
	require.NoError(t, err)
	return dom.Build(snap)
}

// scriptModel returns a mock answering each call with the next response.
func scriptModel(responses ...string) *mocks.MockChatModel {
	m := new(mocks.MockChatModel)
	for _, r := range responses {
		m.On("Complete", mock.Anything, mock.Anything).Return(schemas.Completion{Content: r}, nil).Once()
	}
	return m
}

// promptsOf returns the message list of every Complete call.
func promptsOf(m *mocks.MockChatModel) [][]schemas.Message {
	var out [][]schemas.Message
	for _, c := range m.Calls {
		if c.Method == "Complete" {
			out = append(out, c.Arguments.Get(1).([]schemas.Message))
		}
	}
	return out
}

func lastUserMessage(msgs []schemas.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == schemas.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// scriptedModel replays responses without testify bookkeeping. Once the
// script is exhausted it keeps answering with done.
type scriptedModel struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (m *scriptedModel) Complete(_ context.Context, _ []schemas.Message) (schemas.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.responses) == 0 {
		return schemas.Completion{Content: `{"action":"done","params":{"summary":"out of script"}}`}, nil
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return schemas.Completion{Content: r}, nil
}

type memorySink struct {
	mu      sync.Mutex
	exports []history.RunExport
}

func (s *memorySink) Persist(ctx context.Context, e history.RunExport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.exports = append(s.exports, e)
	s.mu.Unlock()
	return nil
}

type countingRecorder struct {
	mu       sync.Mutex
	started  int
	finished []string
	steps    []string
}

func (r *countingRecorder) RunStarted() {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *countingRecorder) RunFinished(status string, _ time.Duration) {
	r.mu.Lock()
	r.finished = append(r.finished, status)
	r.mu.Unlock()
}

func (r *countingRecorder) StepRecorded(action, errorKind string, _ time.Duration) {
	r.mu.Lock()
	r.steps = append(r.steps, action+":"+errorKind)
	r.mu.Unlock()
}

func nopLogger() *zap.Logger { return zap.NewNop() }
