package actions

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/llmutil"
)

// DefaultMaxRetries bounds re-attempts after a timeout or transient failure.
const DefaultMaxRetries = 2

// ControllerConfig tunes retries and per-action timeouts.
type ControllerConfig struct {
	MaxRetries int
	// Timeouts overrides the per-action default timeout of a dispatch attempt.
	Timeouts map[Name]time.Duration
}

// Controller executes validated actions against the browser driver. It never
// records history; the caller owns that.
type Controller struct {
	driver   schemas.BrowserDriver
	capturer dom.Capturer
	cfg      ControllerConfig
	logger   *zap.Logger
}

// NewController wires a Controller. The capturer supplies fresh snapshots used
// to re-resolve a target between retries.
func NewController(driver schemas.BrowserDriver, capturer dom.Capturer, cfg ControllerConfig, logger *zap.Logger) *Controller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Controller{
		driver:   driver,
		capturer: capturer,
		cfg:      cfg,
		logger:   logger.Named("action_controller"),
	}
}

// DefaultControllerConfig returns the stock retry bound and no overrides.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{MaxRetries: DefaultMaxRetries}
}

// Execute runs an action and reports its outcome. Cancelling ctx stops further
// retries, but a dispatch already in flight runs to completion (bounded by its
// own timeout) so the page is not left half-modified.
func (c *Controller) Execute(ctx context.Context, a Action) Result {
	start := time.Now()
	res := c.execute(ctx, a)
	res.Duration = time.Since(start)

	fields := []zap.Field{
		zap.String("action", string(a.Name)),
		zap.Bool("success", res.Success),
		zap.Int("attempts", res.Attempts),
		zap.Duration("duration", res.Duration),
	}
	if a.Target != nil {
		fields = append(fields, zap.Int("index", a.Target.Index))
	}
	if res.Success {
		c.logger.Debug("Action executed", fields...)
	} else {
		c.logger.Info("Action failed", append(fields, zap.String("error_kind", res.ErrorKind.String()), zap.String("error", res.Error))...)
	}
	return res
}

func (c *Controller) execute(ctx context.Context, a Action) Result {
	if a.Name == Done {
		return Result{
			Success:  true,
			Effect:   "task finished: " + llmutil.Truncate(a.Param("summary"), 200),
			Attempts: 0,
		}
	}

	target := a.Target
	var lastErr error
	for attempt := 1; ; attempt++ {
		outcome, err := c.dispatch(ctx, a, target)
		if err == nil {
			return Result{Success: true, Effect: c.effect(a, target, outcome), Content: outcome.Content, Attempts: attempt}
		}
		lastErr = err
		kind := Classify(err)
		if kind != schemas.ErrKindTimeout && kind != schemas.ErrKindStaleElement && !errors.Is(err, schemas.ErrTransient) {
			return failed(err, attempt)
		}
		if attempt > c.cfg.MaxRetries {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failed(ctxErr, attempt)
		}

		c.logger.Debug("Retrying action after transient failure",
			zap.String("action", string(a.Name)),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if target == nil {
			continue
		}
		idx, capErr := c.capturer.Capture(ctx)
		if capErr != nil {
			return failed(capErr, attempt)
		}
		node, ok := dom.Resolve(idx, *target)
		if !ok {
			return failed(&StaleElementError{Index: target.Index, Key: dom.KeyHash(*target)}, attempt)
		}
		target = &node
	}

	if errors.Is(lastErr, schemas.ErrStaleTarget) && target != nil {
		lastErr = &StaleElementError{Index: target.Index, Key: dom.KeyHash(*target)}
	}
	return failed(lastErr, c.cfg.MaxRetries+1)
}

// dispatch performs one attempt. The attempt context is detached from ctx's
// cancellation and bounded by the action timeout.
func (c *Controller) dispatch(ctx context.Context, a Action, target *dom.ElementNode) (schemas.Outcome, error) {
	timeout := c.timeout(a)
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var (
		outcome schemas.Outcome
		err     error
	)
	if a.Name == Navigate {
		err = c.driver.Navigate(opCtx, a.Param("url"))
		outcome.Effect = "navigated to " + a.Param("url")
	} else {
		p := schemas.Primitive{Kind: a.Spec.Primitive}
		if target != nil {
			p.Target = &schemas.Locator{NodeID: target.NodeID}
		}
		switch a.Name {
		case Type:
			p.Text = a.Param("text")
		case Scroll:
			p.Direction = a.Param("direction")
		}
		outcome, err = c.driver.Dispatch(opCtx, p)
	}

	if err != nil && opCtx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
		return outcome, fmt.Errorf("%s timed out after %v: %w", a.Name, timeout, context.DeadlineExceeded)
	}
	return outcome, err
}

func (c *Controller) timeout(a Action) time.Duration {
	if t, ok := c.cfg.Timeouts[a.Name]; ok && t > 0 {
		return t
	}
	if a.Spec.DefaultTimeout > 0 {
		return a.Spec.DefaultTimeout
	}
	return 30 * time.Second
}

// effect summarizes what happened without echoing typed text.
func (c *Controller) effect(a Action, target *dom.ElementNode, outcome schemas.Outcome) string {
	if outcome.Effect != "" && a.Name != Type {
		return outcome.Effect
	}
	switch a.Name {
	case Click:
		return fmt.Sprintf("clicked element [%d] <%s>", target.Index, target.Tag)
	case Type:
		return fmt.Sprintf("typed %d characters into element [%d]", utf8.RuneCountInString(a.Param("text")), target.Index)
	case Scroll:
		return "scrolled " + a.Param("direction")
	case GoBack:
		return "navigated back"
	case Extract:
		return fmt.Sprintf("extracted %d characters", utf8.RuneCountInString(outcome.Content))
	default:
		return string(a.Name) + " completed"
	}
}

func failed(err error, attempts int) Result {
	return Result{
		Success:   false,
		ErrorKind: Classify(err),
		Error:     err.Error(),
		Effect:    "action failed",
		Attempts:  attempts,
	}
}
