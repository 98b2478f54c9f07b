package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/surfer-cli/internal/scope"
)

// envSecretPrefix marks a secret value that is read from the environment.
const envSecretPrefix = "env:"

// Config is the root configuration of the application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	// Secrets maps a domain pattern to placeholder names and values. A value
	// of the form "env:NAME" is read from the environment variable NAME.
	Secrets map[string]map[string]string `mapstructure:"secrets" yaml:"secrets"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven by the agent.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// SettleTime is waited after every navigation and dispatch so the DOM can
	// react before the next snapshot.
	SettleTime time.Duration `mapstructure:"settle_time" yaml:"settle_time"`
	TracesDir  string        `mapstructure:"traces_dir" yaml:"traces_dir"`
}

// ViewportConfig is the emulated window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// AgentConfig tunes the step loop.
type AgentConfig struct {
	MaxSteps          int                      `mapstructure:"max_steps" yaml:"max_steps"`
	HistoryWindow     int                      `mapstructure:"history_window" yaml:"history_window"`
	MaxParseRetries   int                      `mapstructure:"max_parse_retries" yaml:"max_parse_retries"`
	MaxActionRetries  int                      `mapstructure:"max_action_retries" yaml:"max_action_retries"`
	ActionTimeouts    map[string]time.Duration `mapstructure:"action_timeouts" yaml:"action_timeouts"`
	ModelCallTimeout  time.Duration            `mapstructure:"model_call_timeout" yaml:"model_call_timeout"`
	CaptureRetryDelay time.Duration            `mapstructure:"capture_retry_delay" yaml:"capture_retry_delay"`
	AllowedDomains    []string                 `mapstructure:"allowed_domains" yaml:"allowed_domains"`
}

// LLMProvider identifies a chat model backend.
type LLMProvider string

const (
	ProviderGemini     LLMProvider = "gemini"
	ProviderOpenAI     LLMProvider = "openai"
	ProviderOpenRouter LLMProvider = "openrouter"
	ProviderAzure      LLMProvider = "azure"
)

// LLMConfig selects and tunes the chat model.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIVersion        string        `mapstructure:"api_version" yaml:"api_version"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

// DatabaseConfig holds the database connection details. An empty URL disables
// persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// WorkerConfig bounds concurrent independent runs.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "surfer")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 1100)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.settle_time", "500ms")
	v.SetDefault("browser.traces_dir", "")

	// -- Agent --
	v.SetDefault("agent.max_steps", 50)
	v.SetDefault("agent.history_window", 8)
	v.SetDefault("agent.max_parse_retries", 1)
	v.SetDefault("agent.max_action_retries", 2)
	v.SetDefault("agent.model_call_timeout", "60s")
	v.SetDefault("agent.capture_retry_delay", "500ms")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.burst", 1)
	v.SetDefault("llm.max_retries", 4)
	v.SetDefault("llm.initial_backoff", "1s")
	v.SetDefault("llm.max_backoff", "30s")
	v.SetDefault("llm.api_version", "2024-10-21")

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.shutdown_timeout", "15s")

	// -- Worker --
	v.SetDefault("worker.concurrency", 2)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Provider keys are commonly exported under their vendor names.
	_ = v.BindEnv("llm.api_key", "SURFER_LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY", "OPENROUTER_API_KEY", "AZURE_OPENAI_API_KEY")
	_ = v.BindEnv("database.url", "SURFER_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Browser.UserDataDir, &c.Browser.TracesDir, &c.Browser.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be a positive integer")
	}
	if c.Database.URL != "" && !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("database.url must be a postgres:// URL")
	}
	for pattern := range c.Secrets {
		if _, err := scope.Compile(pattern); err != nil {
			return fmt.Errorf("secrets: %w", err)
		}
	}
	return nil
}

// Validate checks the AgentConfig settings.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be greater than 0")
	}
	if a.HistoryWindow < 0 {
		return fmt.Errorf("history_window must not be negative")
	}
	if a.MaxParseRetries < 0 || a.MaxActionRetries < 0 {
		return fmt.Errorf("retry bounds must not be negative")
	}
	for name, d := range a.ActionTimeouts {
		if d <= 0 {
			return fmt.Errorf("action_timeouts.%s must be a positive duration", name)
		}
	}
	for _, d := range a.AllowedDomains {
		if _, err := scope.Compile(d); err != nil {
			return fmt.Errorf("allowed_domains: %w", err)
		}
	}
	return nil
}

// Validate checks the LLMConfig settings. The API key is checked when a client
// is built, so commands that never call a model run without one.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderOpenRouter:
	case ProviderAzure:
		if l.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the azure provider")
		}
	default:
		return fmt.Errorf("unknown provider %q", l.Provider)
	}
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if l.MaxBackoff > 0 && l.InitialBackoff > l.MaxBackoff {
		return fmt.Errorf("initial_backoff must not exceed max_backoff")
	}
	return nil
}

// SecretBindings resolves the configured secrets, reading "env:" values from
// the environment.
func (c *Config) SecretBindings() (map[string]map[string]string, error) {
	if len(c.Secrets) == 0 {
		return nil, nil
	}
	out := make(map[string]map[string]string, len(c.Secrets))
	for pattern, secrets := range c.Secrets {
		resolved := make(map[string]string, len(secrets))
		for name, value := range secrets {
			if env, ok := strings.CutPrefix(value, envSecretPrefix); ok {
				value = os.Getenv(env)
				if value == "" {
					return nil, fmt.Errorf("secret %q for %q references unset environment variable %s", name, pattern, env)
				}
			}
			resolved[name] = value
		}
		out[pattern] = resolved
	}
	return out, nil
}
