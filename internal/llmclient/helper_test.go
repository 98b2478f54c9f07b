package llmclient

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/config"
)

// scriptedModel replays a fixed sequence of outcomes, repeating the last one.
type scriptedModel struct {
	mu      sync.Mutex
	results []scriptedResult
	calls   int
}

type scriptedResult struct {
	completion schemas.Completion
	err        error
	block      bool // Wait for the call context to end.
}

func (m *scriptedModel) Complete(ctx context.Context, _ []schemas.Message) (schemas.Completion, error) {
	m.mu.Lock()
	r := m.results[min(m.calls, len(m.results)-1)]
	m.calls++
	m.mu.Unlock()
	if r.block {
		<-ctx.Done()
		return schemas.Completion{}, ctx.Err()
	}
	return r.completion, r.err
}

func (m *scriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []error
}

func (o *recordingObserver) ObserveModelCall(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	o.calls = append(o.calls, err)
	o.mu.Unlock()
}

func fastResilience() ResilienceConfig {
	return ResilienceConfig{
		CallTimeout:    time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func getValidLLMConfig(provider config.LLMProvider, endpoint string) config.LLMConfig {
	return config.LLMConfig{
		Provider:    provider,
		Model:       "test-model",
		APIKey:      "test-api-key",
		Endpoint:    endpoint,
		APIVersion:  "2024-10-21",
		Temperature: 0.2,
		MaxTokens:   256,
	}
}
