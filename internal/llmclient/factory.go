package llmclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/config"
)

// NewClient creates the provider adapter selected by cfg and wraps it in a
// ResilientModel. callTimeout bounds each attempt.
func NewClient(ctx context.Context, cfg config.LLMConfig, callTimeout time.Duration, observer CallObserver, logger *zap.Logger) (schemas.ChatModel, error) {
	var (
		model schemas.ChatModel
		err   error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		model, err = NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI, config.ProviderOpenRouter, config.ProviderAzure:
		model, err = NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI, config.ProviderOpenRouter, config.ProviderAzure)
	}
	if err != nil {
		return nil, err
	}

	return NewResilientModel(model, string(cfg.Provider), ResilienceConfig{
		CallTimeout:       callTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxRetries:        cfg.MaxRetries,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
	}, observer, logger), nil
}
