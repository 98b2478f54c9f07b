// Package server exposes runs over HTTP: submit, inspect, cancel, stream and
// fetch history, plus health and Prometheus endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/agent"
	"github.com/xkilldash9x/surfer-cli/internal/config"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/metrics"
	"github.com/xkilldash9x/surfer-cli/internal/store"
	"github.com/xkilldash9x/surfer-cli/internal/vault"
	"github.com/xkilldash9x/surfer-cli/internal/worker"
)

// ErrInvalidRequest marks a submission rejected before it started.
var ErrInvalidRequest = errors.New("invalid run request")

// Config configures the HTTP surface.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	Concurrency     int
	// Secrets are the only bindings runs receive; requests cannot supply any.
	Secrets        vault.Bindings
	AllowedDomains []string
	Export         history.ExportOptions
}

// NewConfig derives the server configuration from the application config,
// resolving secret values from the environment.
func NewConfig(cfg *config.Config) (Config, error) {
	secrets, err := cfg.SecretBindings()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		RequestTimeout:  60 * time.Second,
		Concurrency:     cfg.Worker.Concurrency,
		Secrets:         secrets,
		AllowedDomains:  cfg.Agent.AllowedDomains,
	}, nil
}

// RunStore reads persisted runs.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (history.RunExport, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

var _ RunStore = (*store.Store)(nil)

// AgentBuilder creates an agent for one session. The server appends its own
// options (the state observer) to opts.
type AgentBuilder func(driver schemas.BrowserDriver, opts ...agent.Option) *agent.Agent

// Option configures optional collaborators.
type Option func(*Server)

// WithStore serves persisted runs the registry no longer holds.
func WithStore(s RunStore) Option {
	return func(srv *Server) { srv.store = s }
}

// WithMetrics exposes /metrics and instruments every request.
func WithMetrics(c *metrics.Collector) Option {
	return func(srv *Server) { srv.metrics = c }
}

// Server hosts the HTTP surface and owns the runs it starts.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	registry *RunRegistry
	pool     *worker.Pool
	store    RunStore
	metrics  *metrics.Collector

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// New creates a server. Runs get a fresh session from newDriver and an agent
// from build.
func New(cfg Config, newDriver worker.DriverFactory, build AgentBuilder, logger *zap.Logger, opts ...Option) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		registry: NewRunRegistry(0),
	}
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	s.pool = worker.NewPool(newDriver, func(d schemas.BrowserDriver) *agent.Agent {
		return build(d, agent.WithObserver(s.registry.Observe))
	}, cfg.Concurrency, logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the in-memory run registry.
func (s *Server) Registry() *RunRegistry {
	return s.registry
}

// Submit starts a run in the background and returns its initial view.
func (s *Server) Submit(req RunRequest) (RunView, error) {
	if strings.TrimSpace(req.Task) == "" {
		return RunView{}, fmt.Errorf("%w: task is required", ErrInvalidRequest)
	}
	if req.MaxSteps < 0 {
		return RunView{}, fmt.Errorf("%w: max_steps must not be negative", ErrInvalidRequest)
	}
	if s.baseCtx.Err() != nil {
		return RunView{}, errors.New("server is shutting down")
	}
	allowed := req.AllowedDomains
	if len(allowed) == 0 {
		allowed = s.cfg.AllowedDomains
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(s.baseCtx)
	view := s.registry.Register(id, req.Task, cancel)

	job := worker.Job{
		Name: id,
		Request: agent.RunRequest{
			RunID:          id,
			Task:           req.Task,
			AllowedDomains: allowed,
			SecretBindings: s.cfg.Secrets,
			MaxSteps:       req.MaxSteps,
			StartURL:       req.StartURL,
		},
	}
	s.wg.Add(1)
	s.pool.Submit(ctx, job, func(res worker.JobResult) {
		defer s.wg.Done()
		defer cancel()
		s.registry.Finish(id, res)
	})
	s.logger.Info("Run accepted", zap.String("run_id", id))
	return view, nil
}

// Start serves on cfg.Addr until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("address", ln.Addr().String()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Received shutdown signal, shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	<-errCh
	s.Close()
	s.logger.Info("HTTP server stopped.")
	return nil
}

// Close cancels every in-flight run and waits, bounded by the shutdown
// timeout, for them to finish. It is idempotent.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.registry.CancelAll()
		s.baseCancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.cfg.ShutdownTimeout):
			s.logger.Warn("Timed out waiting for runs to stop", zap.Duration("timeout", s.cfg.ShutdownTimeout))
		}
	})
}
