package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/config"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1/"

// OpenAIClient adapts any OpenAI-compatible chat completions API (OpenAI,
// OpenRouter, Azure OpenAI) to schemas.ChatModel.
type OpenAIClient struct {
	client   openai.Client
	provider config.LLMProvider
	cfg      config.LLMConfig
	logger   *zap.Logger
}

var _ schemas.ChatModel = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client for cfg.Provider. SDK-level retries are
// disabled; ResilientModel owns the retry policy.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	switch cfg.Provider {
	case config.ProviderAzure:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("azure endpoint is required")
		}
		opts = append(opts, azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion), azure.WithAPIKey(cfg.APIKey))
	case config.ProviderOpenRouter:
		base := cfg.Endpoint
		if base == "" {
			base = openRouterBaseURL
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey), option.WithBaseURL(base))
	default:
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithBaseURL(cfg.Endpoint))
		}
	}

	return &OpenAIClient{
		client:   openai.NewClient(opts...),
		provider: cfg.Provider,
		cfg:      cfg,
		logger:   logger.Named("llm_client." + string(cfg.Provider)),
	}, nil
}

// Complete sends the conversation and returns the first choice's text.
func (c *OpenAIClient) Complete(ctx context.Context, messages []schemas.Message) (schemas.Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.cfg.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Opt[float64](float64(c.cfg.Temperature)),
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.cfg.MaxTokens))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return schemas.Completion{}, &StatusError{Provider: string(c.provider), StatusCode: apiErr.StatusCode, Message: apiErr.Message}
		}
		return schemas.Completion{}, fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return schemas.Completion{}, ErrEmptyResponse
	}

	c.logger.Debug("LLM generation complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens))
	return schemas.Completion{Content: resp.Choices[0].Message.Content}, nil
}

func toOpenAIMessages(messages []schemas.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case schemas.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case schemas.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
