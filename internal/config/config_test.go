package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "green", cfg.Logger.Colors.Info)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 50, cfg.Agent.MaxSteps)
	assert.Equal(t, 1, cfg.Agent.MaxParseRetries)
	assert.Equal(t, 2, cfg.Agent.MaxActionRetries)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.NoError(t, cfg.Validate())
}

// -- Loading Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
agent:
  max_steps: 12
  allowed_domains: ["*.example.com"]
  action_timeouts:
    click: 5s
llm:
  provider: openai
  model: gpt-4o-mini
browser:
  traces_dir: ~/surfer/traces
worker:
  concurrency: 3
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))
	t.Setenv("SURFER_LLM_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Agent.MaxSteps)
	assert.Equal(t, []string{"*.example.com"}, cfg.Agent.AllowedDomains)
	assert.Equal(t, 5*time.Second, cfg.Agent.ActionTimeouts["click"])
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 3, cfg.Worker.Concurrency)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "surfer", "traces"), cfg.Browser.TracesDir)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero max steps", func(c *Config) { c.Agent.MaxSteps = 0 }, "max_steps must be greater than 0"},
		{"negative retries", func(c *Config) { c.Agent.MaxParseRetries = -1 }, "retry bounds"},
		{"bad timeout", func(c *Config) { c.Agent.ActionTimeouts = map[string]time.Duration{"click": 0} }, "action_timeouts.click"},
		{"public suffix domain", func(c *Config) { c.Agent.AllowedDomains = []string{"*.com"} }, "allowed_domains"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "nope" }, "unknown provider"},
		{"azure without endpoint", func(c *Config) { c.LLM.Provider = ProviderAzure }, "endpoint is required"},
		{"backoff order", func(c *Config) { c.LLM.InitialBackoff = time.Minute }, "initial_backoff"},
		{"worker concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"database scheme", func(c *Config) { c.Database.URL = "mysql://x" }, "postgres://"},
		{"secret pattern", func(c *Config) { c.Secrets = map[string]map[string]string{"*.co.uk": {"a": "b"}} }, "secrets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecretBindings(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Nil(t, mustBindings(t, cfg))

	t.Setenv("SURFER_TEST_PASSWORD", "hunter2")
	cfg.Secrets = map[string]map[string]string{
		"*.example.com": {"user": "alice@example.com", "password": "env:SURFER_TEST_PASSWORD"},
	}
	got := mustBindings(t, cfg)
	assert.Equal(t, "hunter2", got["*.example.com"]["password"])
	assert.Equal(t, "alice@example.com", got["*.example.com"]["user"])

	cfg.Secrets["*.example.com"]["token"] = "env:SURFER_TEST_UNSET_VAR"
	_, err := cfg.SecretBindings()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SURFER_TEST_UNSET_VAR")
	assert.NotContains(t, err.Error(), "hunter2")
}

func mustBindings(t *testing.T, cfg *Config) map[string]map[string]string {
	t.Helper()
	b, err := cfg.SecretBindings()
	require.NoError(t, err)
	return b
}
