package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
)

// DecisionParseError reports model output that could not be turned into a
// Decision. The step controller re-prompts once with Reason as a hint.
type DecisionParseError struct {
	Reason string
	Raw    string // Truncated model output, already redacted by the caller.
	Err    error
}

func (e *DecisionParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not parse model decision: %s: %v", e.Reason, e.Err)
	}
	return "could not parse model decision: " + e.Reason
}

func (e *DecisionParseError) Unwrap() error { return e.Err }

// ValidationError rejects a well-formed decision that does not fit the current
// page, e.g. an index that does not exist. It is raised before any dispatch.
type ValidationError struct {
	Action Name
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s action: %s", e.Action, e.Reason)
}

// DomainNotAllowedError rejects navigation outside the run's allowed domains.
// It is never retried; the action is skipped.
type DomainNotAllowedError struct {
	URL     string
	Allowed []string
}

func (e *DomainNotAllowedError) Error() string {
	return fmt.Sprintf("navigation to %s is not allowed (allowed domains: %s)", e.URL, strings.Join(e.Allowed, ", "))
}

// StaleElementError reports that the target element vanished and could not be
// re-resolved on a fresh snapshot.
type StaleElementError struct {
	Index int
	Key   string
}

func (e *StaleElementError) Error() string {
	return fmt.Sprintf("element [%d] is no longer present on the page", e.Index)
}

// Classify maps an error to the ErrorKind recorded in history.
func Classify(err error) schemas.ErrorKind {
	if err == nil {
		return schemas.ErrKindNone
	}
	var (
		parseErr  *DecisionParseError
		valErr    *ValidationError
		domainErr *DomainNotAllowedError
		staleErr  *StaleElementError
		capErr    *dom.CaptureError
	)
	switch {
	case errors.As(err, &domainErr):
		return schemas.ErrKindDomainNotAllowed
	case errors.As(err, &staleErr), errors.Is(err, schemas.ErrStaleTarget):
		return schemas.ErrKindStaleElement
	case errors.As(err, &parseErr):
		return schemas.ErrKindDecisionParse
	case errors.As(err, &valErr):
		return schemas.ErrKindValidation
	case errors.As(err, &capErr):
		return schemas.ErrKindCapture
	case errors.Is(err, context.Canceled):
		return schemas.ErrKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return schemas.ErrKindTimeout
	default:
		return schemas.ErrKindDriver
	}
}
