package history

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
)

// Unredactor restores placeholder tokens for a page.
type Unredactor interface {
	Unredact(text, pageURL string) string
}

// ReplayOptions tunes a replay.
type ReplayOptions struct {
	// SkipFailures continues past steps whose element cannot be found or whose
	// action fails.
	SkipFailures bool
	// Delay pauses between steps so pages can settle.
	Delay time.Duration
}

// ReplayStep is the outcome of replaying one record.
type ReplayStep struct {
	Step    int            `json:"step"`
	Action  actions.Name   `json:"action"`
	Result  actions.Result `json:"result"`
	Skipped bool           `json:"skipped,omitempty"`
}

// Replayer re-executes exported records on a live page. Recorded targets are
// re-found by similarity key on a fresh snapshot, never by raw index.
type Replayer struct {
	capturer   dom.Capturer
	validator  *actions.Validator
	controller *actions.Controller
	unredactor Unredactor
	logger     *zap.Logger
}

// NewReplayer wires a Replayer. unredactor may be nil when no secrets are bound.
func NewReplayer(capturer dom.Capturer, validator *actions.Validator, controller *actions.Controller, unredactor Unredactor, logger *zap.Logger) *Replayer {
	return &Replayer{
		capturer:   capturer,
		validator:  validator,
		controller: controller,
		unredactor: unredactor,
		logger:     logger.Named("replayer"),
	}
}

// Replay runs records in order and stops after a done action. Without
// SkipFailures the first failure ends the replay with an error.
func (r *Replayer) Replay(ctx context.Context, records []Record, opts ReplayOptions) ([]ReplayStep, error) {
	var steps []ReplayStep
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		// Steps that were rejected by policy never ran, so they are not replayed.
		if rec.Result.ErrorKind == schemas.ErrKindDomainNotAllowed {
			steps = append(steps, ReplayStep{Step: rec.Step, Action: rec.Decision.Action, Skipped: true})
			continue
		}

		step, err := r.replayOne(ctx, rec)
		steps = append(steps, step)
		if err != nil {
			if !opts.SkipFailures {
				return steps, fmt.Errorf("replay of step %d failed: %w", rec.Step, err)
			}
			r.logger.Warn("Replay step failed, continuing", zap.Int("step", rec.Step), zap.Error(err))
		}
		if rec.Decision.Action == actions.Done {
			break
		}
		if opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return steps, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}
	return steps, nil
}

func (r *Replayer) replayOne(ctx context.Context, rec Record) (ReplayStep, error) {
	step := ReplayStep{Step: rec.Step, Action: rec.Decision.Action}

	idx, err := r.capturer.Capture(ctx)
	if err != nil {
		step.Result = actions.Result{ErrorKind: actions.Classify(err), Error: err.Error()}
		return step, err
	}

	decision := copyDecision(rec.Decision)
	if rec.Target != nil {
		node, ok := dom.FindByKey(idx, rec.Target.Key, rec.Target.Index)
		if !ok {
			staleErr := &actions.StaleElementError{Index: rec.Target.Index, Key: rec.Target.KeyHash}
			step.Result = actions.Result{ErrorKind: schemas.ErrKindStaleElement, Error: staleErr.Error()}
			return step, staleErr
		}
		decision.Index = &node.Index
	}

	action, err := r.validator.Validate(decision, idx)
	if err != nil {
		step.Result = actions.Result{ErrorKind: actions.Classify(err), Error: err.Error()}
		return step, err
	}
	if r.unredactor != nil {
		for k, v := range action.Params {
			action.Params[k] = r.unredactor.Unredact(v, idx.URL())
		}
	}

	step.Result = r.controller.Execute(ctx, action)
	if !step.Result.Success {
		return step, fmt.Errorf("%s: %s", step.Result.ErrorKind, step.Result.Error)
	}
	return step, nil
}
