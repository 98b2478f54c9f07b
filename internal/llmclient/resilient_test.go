package llmclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

var okCompletion = schemas.Completion{Content: `{"action":"done","params":{"summary":"ok"}}`}

func TestResilientModelRetriesTransientFailures(t *testing.T) {
	model := &scriptedModel{results: []scriptedResult{
		{err: &StatusError{Provider: "test", StatusCode: http.StatusServiceUnavailable}},
		{err: &StatusError{Provider: "test", StatusCode: http.StatusTooManyRequests}},
		{completion: okCompletion},
	}}
	obs := &recordingObserver{}
	rm := NewResilientModel(model, "test", fastResilience(), obs, zaptest.NewLogger(t))

	got, err := rm.Complete(context.Background(), []schemas.Message{schemas.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, okCompletion, got)
	assert.Equal(t, 3, model.Calls())
	require.Len(t, obs.calls, 3)
	assert.Nil(t, obs.calls[2])
}

func TestResilientModelGivesUpAfterBound(t *testing.T) {
	model := &scriptedModel{results: []scriptedResult{{err: &StatusError{Provider: "test", StatusCode: http.StatusBadGateway}}}}
	rm := NewResilientModel(model, "test", fastResilience(), nil, zaptest.NewLogger(t))

	_, err := rm.Complete(context.Background(), nil)
	var unavailable *ModelUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 3, unavailable.Attempts)
	assert.Equal(t, 3, model.Calls())
	var statusErr *StatusError
	assert.ErrorAs(t, err, &statusErr)
}

func TestResilientModelPermanentFailure(t *testing.T) {
	model := &scriptedModel{results: []scriptedResult{{err: &StatusError{Provider: "test", StatusCode: http.StatusUnauthorized}}}}
	rm := NewResilientModel(model, "test", fastResilience(), nil, zaptest.NewLogger(t))

	_, err := rm.Complete(context.Background(), nil)
	var unavailable *ModelUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 1, unavailable.Attempts)
	assert.Equal(t, 1, model.Calls())
}

func TestResilientModelPerAttemptTimeout(t *testing.T) {
	model := &scriptedModel{results: []scriptedResult{{block: true}, {completion: okCompletion}}}
	cfg := fastResilience()
	cfg.CallTimeout = 20 * time.Millisecond
	rm := NewResilientModel(model, "test", cfg, nil, zaptest.NewLogger(t))

	got, err := rm.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, okCompletion, got)
	assert.Equal(t, 2, model.Calls())
}

func TestResilientModelEmptyResponseIsRetried(t *testing.T) {
	model := &scriptedModel{results: []scriptedResult{{completion: schemas.Completion{}}, {completion: okCompletion}}}
	rm := NewResilientModel(model, "test", fastResilience(), nil, zaptest.NewLogger(t))

	_, err := rm.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, model.Calls())
}

func TestResilientModelCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedModel{results: []scriptedResult{{block: true}}}
	cfg := fastResilience()
	cfg.CallTimeout = 0
	rm := NewResilientModel(model, "test", cfg, nil, zaptest.NewLogger(t))

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := rm.Complete(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
	var unavailable *ModelUnavailableError
	assert.False(t, errors.As(err, &unavailable))
	assert.Equal(t, 1, model.Calls())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limited", &StatusError{StatusCode: 429}, true},
		{"server error", &StatusError{StatusCode: 500}, true},
		{"request timeout", &StatusError{StatusCode: 408}, true},
		{"bad request", &StatusError{StatusCode: 400}, false},
		{"forbidden", &StatusError{StatusCode: 403}, false},
		{"empty", ErrEmptyResponse, true},
		{"transport", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
