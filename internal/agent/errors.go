package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/llmclient"
)

// MaxStepsExceededError ends a run that reached its step ceiling without done.
type MaxStepsExceededError struct {
	MaxSteps int
}

func (e *MaxStepsExceededError) Error() string {
	return fmt.Sprintf("task not finished within %d steps", e.MaxSteps)
}

// ActionFailedError ends a run after an action failed in a way the loop does
// not recover from (timeouts that exhausted their retries, driver errors).
type ActionFailedError struct {
	Action  actions.Name
	Kind    schemas.ErrorKind
	Message string
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("%s action failed (%s): %s", e.Action, e.Kind, e.Message)
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("internal error: %v", e.value)
}

// classify maps a run-ending error to the ErrorKind recorded on State.
func classify(err error) schemas.ErrorKind {
	var (
		maxErr    *MaxStepsExceededError
		actionErr *ActionFailedError
		modelErr  *llmclient.ModelUnavailableError
		pErr      *panicError
	)
	switch {
	case err == nil:
		return schemas.ErrKindNone
	case errors.As(err, &maxErr):
		return schemas.ErrKindMaxSteps
	case errors.As(err, &actionErr):
		return actionErr.Kind
	case errors.As(err, &modelErr):
		return schemas.ErrKindModelUnavailable
	case errors.As(err, &pErr):
		return schemas.ErrKindInternal
	case errors.Is(err, context.Canceled):
		return schemas.ErrKindCancelled
	default:
		return actions.Classify(err)
	}
}
