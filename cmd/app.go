package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/agent"
	"github.com/xkilldash9x/surfer-cli/internal/browser"
	"github.com/xkilldash9x/surfer-cli/internal/config"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/llmclient"
	"github.com/xkilldash9x/surfer-cli/internal/metrics"
	"github.com/xkilldash9x/surfer-cli/internal/store"
	"github.com/xkilldash9x/surfer-cli/internal/vault"
	"github.com/xkilldash9x/surfer-cli/internal/worker"
)

// Function variables for dependency injection in tests.
var (
	newChatModel = func(ctx context.Context, cfg *config.Config, obs llmclient.CallObserver, logger *zap.Logger) (schemas.ChatModel, error) {
		return llmclient.NewClient(ctx, cfg.LLM, cfg.Agent.ModelCallTimeout, obs, logger)
	}
	newDriverFactory = func(m *browser.Manager) worker.DriverFactory {
		return func(ctx context.Context) (schemas.BrowserDriver, error) {
			s, err := m.NewSession(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	openStore = func(ctx context.Context, url string, logger *zap.Logger) (*store.Store, func(), error) {
		s, pool, err := store.Open(ctx, url, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, pool.Close, nil
	}
)

// app holds the components shared by every command that drives a browser.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	manager *browser.Manager
	model   schemas.ChatModel
	metrics *metrics.Collector
	store   *store.Store
	sinks   []agent.RecordSink

	closeStore func()
}

type appOptions struct {
	withModel bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		manager: browser.NewManager(ctx, cfg.Browser, logger),
		metrics: metrics.NewCollector(),
	}

	if opts.withModel {
		model, err := newChatModel(ctx, cfg, a.metrics, logger)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to create model client: %w", err)
		}
		a.model = model
	}

	if cfg.Browser.TracesDir != "" {
		tw, err := history.NewTraceWriter(cfg.Browser.TracesDir, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.sinks = append(a.sinks, tw)
	}

	if cfg.Database.URL != "" {
		s, closeFn, err := openStore(ctx, cfg.Database.URL, logger)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.store, a.closeStore = s, closeFn
		if err := s.EnsureSchema(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.sinks = append(a.sinks, s)
		logger.Info("Database persistence enabled.")
	}
	return a, nil
}

func (a *app) driverFactory() worker.DriverFactory {
	return newDriverFactory(a.manager)
}

// buildAgent matches server.AgentBuilder.
func (a *app) buildAgent(driver schemas.BrowserDriver, opts ...agent.Option) *agent.Agent {
	base := []agent.Option{agent.WithRecorder(a.metrics), agent.WithSinks(a.sinks...)}
	return agent.New(driver, a.model, a.logger, agent.NewConfig(a.cfg.Agent), append(base, opts...)...)
}

func (a *app) newPool(concurrency int) *worker.Pool {
	return worker.NewPool(a.driverFactory(), func(d schemas.BrowserDriver) *agent.Agent {
		return a.buildAgent(d)
	}, concurrency, a.logger)
}

// Close releases the browser and the database pool.
func (a *app) Close(ctx context.Context) {
	if err := a.manager.Shutdown(ctx); err != nil {
		a.logger.Error("Browser manager shutdown error", zap.Error(err))
	}
	if a.closeStore != nil {
		a.closeStore()
	}
}

// -- Secret flags --

// parseSecretFlags turns "pattern=name:ENV_VAR" flags into bindings, reading
// each value from the environment so secrets never appear on the command line.
func parseSecretFlags(flags []string) (vault.Bindings, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(vault.Bindings)
	for _, f := range flags {
		pattern, rest, ok := strings.Cut(f, "=")
		if !ok || pattern == "" {
			return nil, fmt.Errorf("invalid --secret %q: expected pattern=name:ENV_VAR", f)
		}
		name, env, ok := strings.Cut(rest, ":")
		if !ok || name == "" || env == "" {
			return nil, fmt.Errorf("invalid --secret %q: expected pattern=name:ENV_VAR", f)
		}
		value := os.Getenv(env)
		if value == "" {
			return nil, fmt.Errorf("secret %q references unset environment variable %s", name, env)
		}
		if out[pattern] == nil {
			out[pattern] = make(map[string]string)
		}
		out[pattern][name] = value
	}
	return out, nil
}

// mergeBindings returns the union of a and b; b wins on conflicts.
func mergeBindings(a, b vault.Bindings) vault.Bindings {
	if len(a) == 0 {
		return b
	}
	out := make(vault.Bindings, len(a)+len(b))
	for _, src := range []vault.Bindings{a, b} {
		for pattern, secrets := range src {
			if out[pattern] == nil {
				out[pattern] = make(map[string]string)
			}
			for k, v := range secrets {
				out[pattern][k] = v
			}
		}
	}
	return out
}

// resolveSecrets merges configured secrets with --secret flags.
func resolveSecrets(cfg *config.Config, flags []string) (vault.Bindings, error) {
	configured, err := cfg.SecretBindings()
	if err != nil {
		return nil, err
	}
	fromFlags, err := parseSecretFlags(flags)
	if err != nil {
		return nil, err
	}
	return mergeBindings(configured, fromFlags), nil
}
