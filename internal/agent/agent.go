package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/llmclient"
	"github.com/xkilldash9x/surfer-cli/internal/llmutil"
	"github.com/xkilldash9x/surfer-cli/internal/observability"
	"github.com/xkilldash9x/surfer-cli/internal/scope"
	"github.com/xkilldash9x/surfer-cli/internal/vault"
)

// persistTimeout bounds each sink write after a run has finished.
const persistTimeout = 30 * time.Second

// RunRequest describes one task.
type RunRequest struct {
	Task           string
	AllowedDomains []string
	SecretBindings vault.Bindings
	// MaxSteps overrides the configured ceiling when positive.
	MaxSteps int
	// StartURL, when set, is loaded before the first step.
	StartURL string
	// RunID names the run; a UUID is generated when empty.
	RunID string
}

// RunResult is the final state of a run together with its history.
type RunResult struct {
	RunID      string
	State      State
	History    *history.Tree
	StartedAt  time.Time
	FinishedAt time.Time

	vault *vault.Vault
}

// Export returns the persisted form of the run with every secret redacted.
func (r *RunResult) Export(opts history.ExportOptions) history.RunExport {
	return history.RunExport{
		RunID:      r.RunID,
		Task:       r.vault.RedactAll(r.State.Task),
		Status:     string(r.State.Status),
		ErrorKind:  r.State.LastErrorKind,
		Error:      r.State.LastError,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Records:    history.Export(r.History, r.vault, opts),
	}
}

// Agent drives a browser towards a task through a perceive, decide, act loop.
// Runs on the same Agent are serialized because they share one browser.
type Agent struct {
	driver   schemas.BrowserDriver
	model    schemas.ChatModel
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
	sinks    []RecordSink
	observer Observer

	mu sync.Mutex
}

// New creates an Agent bound to one browser driver and one model.
func New(driver schemas.BrowserDriver, model schemas.ChatModel, logger *zap.Logger, cfg Config, opts ...Option) *Agent {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultConfig().MaxSteps
	}
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = 0
	}
	if cfg.MaxParseRetries < 0 {
		cfg.MaxParseRetries = 0
	}
	a := &Agent{
		driver: driver,
		model:  model,
		cfg:    cfg,
		logger: logger.Named("agent"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes req until the model finishes, the step ceiling is reached, a
// fatal error occurs or ctx is cancelled. The returned error only reports an
// invalid request; every outcome of an accepted run is described by the
// result's State.
func (a *Agent) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, errors.New("task must not be empty")
	}
	if req.MaxSteps < 0 {
		return nil, fmt.Errorf("max steps must not be negative, got %d", req.MaxSteps)
	}
	allow, err := scope.NewAllowlist(req.AllowedDomains)
	if err != nil {
		return nil, fmt.Errorf("invalid allowed domains: %w", err)
	}
	v, err := vault.New(req.SecretBindings)
	if err != nil {
		return nil, fmt.Errorf("invalid secret bindings: %w", err)
	}
	if req.StartURL != "" && !allow.Allows(req.StartURL) {
		return nil, &actions.DomainNotAllowedError{URL: req.StartURL, Allowed: allow.Patterns()}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.newRun(req, allow, v)
	if a.recorder != nil {
		a.recorder.RunStarted()
	}
	r.logger.Info("Run started", zap.String("task", req.Task), zap.Int("max_steps", r.maxSteps), zap.Strings("allowed_domains", allow.Patterns()))

	r.execute(ctx)

	result := &RunResult{
		RunID:      r.id,
		State:      r.state,
		History:    r.tree,
		StartedAt:  r.startedAt,
		FinishedAt: time.Now().UTC(),
		vault:      v,
	}
	elapsed := result.FinishedAt.Sub(result.StartedAt)
	if a.recorder != nil {
		a.recorder.RunFinished(string(result.State.Status), elapsed)
	}
	r.logger.Info("Run finished",
		zap.String("status", string(result.State.Status)),
		zap.Int("steps", result.State.Step),
		zap.String("error_kind", result.State.LastErrorKind.String()),
		zap.String("error", result.State.LastError),
		zap.Duration("duration", elapsed))

	a.persist(ctx, r.logger, result)
	return result, nil
}

func (a *Agent) persist(ctx context.Context, logger *zap.Logger, result *RunResult) {
	if len(a.sinks) == 0 {
		return
	}
	export := result.Export(a.cfg.Export)
	// The run may have ended because ctx was cancelled; its record still matters.
	base := context.WithoutCancel(ctx)
	for _, sink := range a.sinks {
		sinkCtx, cancel := context.WithTimeout(base, persistTimeout)
		if err := sink.Persist(sinkCtx, export); err != nil {
			logger.Error("Failed to persist run history", zap.Error(err))
		}
		cancel()
	}
}

func (a *Agent) newRun(req RunRequest, allow scope.Allowlist, v *vault.Vault) *run {
	id := req.RunID
	if id == "" {
		id = uuid.NewString()
	}
	maxSteps := a.cfg.MaxSteps
	if req.MaxSteps > 0 {
		maxSteps = req.MaxSteps
	}
	logger := observability.WithRedactor(a.logger, v).With(zap.String("run_id", id))
	indexer := dom.NewIndexer(a.driver, logger, a.cfg.CaptureRetryDelay)
	return &run{
		id:         id,
		req:        req,
		maxSteps:   maxSteps,
		cfg:        a.cfg,
		driver:     a.driver,
		model:      a.model,
		vault:      v,
		tree:       history.NewTree(),
		indexer:    indexer,
		validator:  actions.NewValidator(allow),
		controller: actions.NewController(a.driver, indexer, a.cfg.Controller, logger),
		logger:     logger.Named("step_controller"),
		recorder:   a.recorder,
		observer:   a.observer,
		startedAt:  time.Now().UTC(),
		state:      State{Task: v.RedactAll(req.Task), Status: StatusIdle},
	}
}

// -- Run Loop --

// run holds the per-run components. It is driven by a single goroutine.
type run struct {
	id         string
	req        RunRequest
	maxSteps   int
	cfg        Config
	driver     schemas.BrowserDriver
	model      schemas.ChatModel
	vault      *vault.Vault
	tree       *history.Tree
	indexer    *dom.Indexer
	validator  *actions.Validator
	controller *actions.Controller
	logger     *zap.Logger
	recorder   Recorder
	observer   Observer
	startedAt  time.Time

	state State
	prev  *dom.ElementIndex
	// hint is shown to the model on the next step only.
	hint string
}

func (r *run) execute(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Panic recovered during step", zap.String("panic_value", fmt.Sprint(p)), zap.Stack("stack"))
			r.fail(&panicError{value: p})
		}
	}()

	r.transition(StatusRunning)

	if r.req.StartURL != "" {
		if err := r.driver.Navigate(ctx, r.req.StartURL); err != nil {
			r.end(ctx, fmt.Errorf("failed to load start url: %w", err))
			return
		}
	}

	for {
		if ctx.Err() != nil {
			r.cancel(ctx.Err())
			return
		}
		if r.state.Step >= r.maxSteps {
			r.fail(&MaxStepsExceededError{MaxSteps: r.maxSteps})
			return
		}
		done, err := r.step(ctx)
		if err != nil {
			r.end(ctx, err)
			return
		}
		if done {
			r.transition(StatusCompleted)
			return
		}
	}
}

// step performs one perceive, decide, act cycle. It reports whether the run
// is finished; an error ends the run.
func (r *run) step(ctx context.Context) (bool, error) {
	logger := r.logger.With(zap.Int("step", r.state.Step))

	idx, err := r.indexer.Capture(ctx)
	if err != nil {
		return false, err
	}

	var changes string
	if r.prev != nil {
		changes = history.Diff(r.prev, idx).Describe(idx)
	}

	decision, action, err := r.decide(ctx, logger, idx, changes)
	var domainErr *actions.DomainNotAllowedError
	switch {
	case errors.As(err, &domainErr):
		logger.Warn("Navigation outside the allowed domains skipped", zap.String("url", domainErr.URL))
		r.hint = fmt.Sprintf("Navigation to %s was rejected because it is outside the allowed domains %v.", domainErr.URL, domainErr.Allowed)
		return false, r.record(idx, decision, actions.Result{
			ErrorKind: schemas.ErrKindDomainNotAllowed,
			Error:     err.Error(),
			Effect:    "navigation skipped",
		})
	case err != nil:
		return false, err
	}

	// Nothing has touched the page yet, so cancellation is still clean here.
	if err := ctx.Err(); err != nil {
		return false, err
	}

	pageURL := idx.URL()
	for k, val := range action.Params {
		action.Params[k] = r.vault.Unredact(val, pageURL)
	}

	logger.Debug("Executing action", zap.String("action", string(action.Name)), zap.String("reasoning", decision.Reasoning))
	res := r.controller.Execute(ctx, action)
	if err := r.record(idx, decision, res); err != nil {
		return false, err
	}

	if decision.Action == actions.Done {
		r.state.Summary = r.vault.RedactAll(decision.Param("summary"))
		r.state.Succeeded = decision.Param("success") != "false"
		r.notify()
		return true, nil
	}

	if res.Success {
		return false, nil
	}
	switch res.ErrorKind {
	case schemas.ErrKindStaleElement:
		r.hint = "The element targeted by the previous action no longer exists. Choose again from the current page."
		return false, nil
	case schemas.ErrKindCancelled:
		return false, context.Canceled
	default:
		return false, &ActionFailedError{Action: action.Name, Kind: res.ErrorKind, Message: res.Error}
	}
}

// decide asks the model for the next action. A response that cannot be parsed
// or validated is answered with a corrective re-prompt up to MaxParseRetries
// times. A DomainNotAllowedError is returned with the offending decision.
func (r *run) decide(ctx context.Context, logger *zap.Logger, idx *dom.ElementIndex, changes string) (actions.Decision, actions.Action, error) {
	base := []schemas.Message{
		schemas.SystemMessage(systemPrompt),
		schemas.UserMessage(r.vault.RedactAll(r.userPrompt(idx, changes))),
	}
	r.hint = ""

	messages := base
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxParseRetries; attempt++ {
		completion, err := r.complete(ctx, messages)
		if err != nil {
			return actions.Decision{}, actions.Action{}, err
		}

		decision, err := actions.ParseDecision(completion)
		if err == nil {
			var action actions.Action
			action, err = r.validator.Validate(decision, idx)
			if err == nil {
				return decision, action, nil
			}
			var domainErr *actions.DomainNotAllowedError
			if errors.As(err, &domainErr) {
				return decision, actions.Action{}, err
			}
		}

		lastErr = err
		logger.Info("Model decision rejected",
			zap.Int("attempt", attempt+1),
			zap.String("error_kind", actions.Classify(err).String()),
			zap.Error(err))

		messages = append(append(make([]schemas.Message, 0, len(base)+2), base...),
			schemas.AssistantMessage(r.vault.RedactAll(llmutil.Truncate(completion.Content, maxRejectedInPrompt))),
			schemas.UserMessage(r.vault.RedactAll(correctionPrompt(err, idx))),
		)
	}
	return actions.Decision{}, actions.Action{}, lastErr
}

// complete calls the model. Any failure other than cancellation of ctx is
// reported as a ModelUnavailableError.
func (r *run) complete(ctx context.Context, messages []schemas.Message) (schemas.Completion, error) {
	completion, err := r.model.Complete(ctx, messages)
	if err == nil {
		return completion, nil
	}
	if ctx.Err() != nil {
		return schemas.Completion{}, ctx.Err()
	}
	var unavailable *llmclient.ModelUnavailableError
	if !errors.As(err, &unavailable) {
		err = &llmclient.ModelUnavailableError{Provider: "model", Attempts: 1, Err: err}
	}
	return schemas.Completion{}, err
}

// record appends the step to history and advances the step counter.
func (r *run) record(idx *dom.ElementIndex, d actions.Decision, res actions.Result) error {
	entry := history.Entry{
		Step:      r.state.Step,
		Index:     idx,
		Decision:  d,
		Result:    res,
		Timestamp: time.Now().UTC(),
	}
	if err := r.tree.Append(entry); err != nil {
		return err
	}
	if r.recorder != nil {
		r.recorder.StepRecorded(string(d.Action), res.ErrorKind.String(), res.Duration)
	}
	r.prev = idx
	r.state.Step++
	r.notify()
	return nil
}

// -- State Transitions --

// end classifies the error that stopped the loop.
func (r *run) end(ctx context.Context, err error) {
	if ctx.Err() != nil {
		r.cancel(err)
		return
	}
	r.fail(err)
}

func (r *run) cancel(err error) {
	if r.state.Status.Terminal() {
		return
	}
	r.state.LastErrorKind = schemas.ErrKindCancelled
	r.state.LastError = r.vault.RedactAll(err.Error())
	r.transition(StatusCancelled)
}

func (r *run) fail(err error) {
	if r.state.Status.Terminal() {
		return
	}
	r.state.LastErrorKind = classify(err)
	r.state.LastError = r.vault.RedactAll(err.Error())
	r.transition(StatusFailed)
}

func (r *run) transition(to Status) {
	from := r.state.Status
	if from == to {
		return
	}
	if from.Terminal() {
		r.logger.Warn("Attempted to transition out of a terminal state. Ignoring.",
			zap.String("current_status", string(from)),
			zap.String("attempted_status", string(to)))
		return
	}
	r.logger.Debug("Run status transition", zap.String("from", string(from)), zap.String("to", string(to)))
	r.state.Status = to
	r.notify()
}

func (r *run) notify() {
	if r.observer != nil {
		r.observer(r.id, r.state)
	}
}
