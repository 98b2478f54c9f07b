package agent

import (
	"time"

	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/config"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/history"
)

// Config tunes the step loop.
type Config struct {
	// MaxSteps applies when a request does not set its own ceiling.
	MaxSteps int
	// HistoryWindow is how many recent steps are shown to the model.
	HistoryWindow int
	// MaxParseRetries is how many corrective re-prompts follow a rejected decision.
	MaxParseRetries   int
	CaptureRetryDelay time.Duration
	Controller        actions.ControllerConfig
	// Export controls the records handed to sinks.
	Export history.ExportOptions
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{
		MaxSteps:          50,
		HistoryWindow:     8,
		MaxParseRetries:   1,
		CaptureRetryDelay: dom.DefaultCaptureRetryDelay,
		Controller:        actions.DefaultControllerConfig(),
	}
}

// NewConfig maps the agent section of the application configuration.
func NewConfig(c config.AgentConfig) Config {
	cfg := DefaultConfig()
	cfg.MaxSteps = c.MaxSteps
	cfg.HistoryWindow = c.HistoryWindow
	cfg.MaxParseRetries = c.MaxParseRetries
	if c.CaptureRetryDelay > 0 {
		cfg.CaptureRetryDelay = c.CaptureRetryDelay
	}
	cfg.Controller.MaxRetries = c.MaxActionRetries
	if len(c.ActionTimeouts) > 0 {
		cfg.Controller.Timeouts = make(map[actions.Name]time.Duration, len(c.ActionTimeouts))
		for name, d := range c.ActionTimeouts {
			cfg.Controller.Timeouts[actions.Name(name)] = d
		}
	}
	return cfg
}

// Recorder receives run and step measurements.
type Recorder interface {
	RunStarted()
	RunFinished(status string, d time.Duration)
	StepRecorded(action, errorKind string, d time.Duration)
}

// RecordSink persists the export of a finished run.
type RecordSink = history.Sink

// Observer is called with a copy of the state after every change.
type Observer func(runID string, state State)

// Option configures an Agent.
type Option func(*Agent)

// WithRecorder reports measurements to r.
func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithSinks persists every finished run to each sink.
func WithSinks(sinks ...RecordSink) Option {
	return func(a *Agent) { a.sinks = append(a.sinks, sinks...) }
}

// WithObserver reports state changes while a run progresses.
func WithObserver(o Observer) Option {
	return func(a *Agent) { a.observer = o }
}
