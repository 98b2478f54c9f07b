package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

// CallObserver is notified after every attempt against the provider.
type CallObserver interface {
	ObserveModelCall(provider string, d time.Duration, err error)
}

// ResilienceConfig bounds a ResilientModel.
type ResilienceConfig struct {
	// CallTimeout bounds each attempt. Zero disables the per-attempt timeout.
	CallTimeout time.Duration
	// RequestsPerSecond paces attempts. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	// MaxRetries is the number of attempts after the first one.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ResilientModel wraps a ChatModel with pacing, per-attempt timeouts and
// bounded exponential backoff. Exhausted or permanent failures surface as
// *ModelUnavailableError.
type ResilientModel struct {
	model    schemas.ChatModel
	provider string
	cfg      ResilienceConfig
	limiter  *rate.Limiter
	observer CallObserver
	logger   *zap.Logger
}

var _ schemas.ChatModel = (*ResilientModel)(nil)

// NewResilientModel wraps model. observer may be nil.
func NewResilientModel(model schemas.ChatModel, provider string, cfg ResilienceConfig, observer CallObserver, logger *zap.Logger) *ResilientModel {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &ResilientModel{
		model:    model,
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, burst),
		observer: observer,
		logger:   logger.Named("resilient_model"),
	}
}

// Complete calls the wrapped model until it succeeds, a permanent error occurs
// or the retry bound is reached. Cancellation of ctx is returned as is.
func (m *ResilientModel) Complete(ctx context.Context, messages []schemas.Message) (schemas.Completion, error) {
	var (
		out      schemas.Completion
		attempts int
	)

	operation := func() error {
		attempts++
		if err := m.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if m.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, m.cfg.CallTimeout)
		}
		defer cancel()

		start := time.Now()
		c, err := m.model.Complete(callCtx, messages)
		if err == nil && c.Content == "" {
			err = ErrEmptyResponse
		}
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("model call timed out after %v: %w", m.cfg.CallTimeout, context.DeadlineExceeded)
		}
		if m.observer != nil {
			m.observer.ObserveModelCall(m.provider, time.Since(start), err)
		}

		switch {
		case err == nil:
			out = c
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case !Retryable(err):
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	notify := func(err error, wait time.Duration) {
		m.logger.Warn("Model call failed, retrying",
			zap.String("provider", m.provider),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), uint64(m.cfg.MaxRetries)), ctx), notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return schemas.Completion{}, ctxErr
		}
		return schemas.Completion{}, &ModelUnavailableError{Provider: m.provider, Attempts: attempts, Err: err}
	}
	return out, nil
}

func (m *ResilientModel) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if m.cfg.InitialBackoff > 0 {
		b.InitialInterval = m.cfg.InitialBackoff
	}
	if m.cfg.MaxBackoff > 0 {
		b.MaxInterval = m.cfg.MaxBackoff
	}
	// The attempt count is the bound.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
