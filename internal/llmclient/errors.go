package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ModelUnavailableError reports that the chat model could not be reached or
// kept failing after the retry bound.
type ModelUnavailableError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// StatusError is a provider HTTP failure normalized across SDKs.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether a failed model call may succeed if repeated.
// Rate limits, server errors, timeouts and network failures are retryable;
// other client errors and cancellation are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// Timeouts, empty responses and transport failures (resets, EOF).
	return true
}
