// Package worker runs independent agent runs concurrently, each with its own
// browser session, vault and history.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/agent"
)

// DefaultConcurrency is used when a pool is created with a non-positive limit.
const DefaultConcurrency = 2

// Job is one independent run.
type Job struct {
	// Name labels the job in logs and results. It does not need to be unique.
	Name    string
	Request agent.RunRequest
}

// JobResult pairs a job with its outcome. Err is set only when the run could
// not be started (no session, invalid request); run-level failures live in
// Result.State.
type JobResult struct {
	Job    Job
	Result *agent.RunResult
	Err    error
}

// DriverFactory opens a fresh browser session for one job.
type DriverFactory func(ctx context.Context) (schemas.BrowserDriver, error)

// AgentFactory builds an agent around a session.
type AgentFactory func(driver schemas.BrowserDriver) *agent.Agent

// Pool bounds the number of runs in flight. It is safe for concurrent use;
// Run and Submit share the same limit.
type Pool struct {
	newDriver DriverFactory
	newAgent  AgentFactory
	slots     chan struct{}
	logger    *zap.Logger
}

// NewPool creates a pool running at most concurrency jobs at once.
func NewPool(newDriver DriverFactory, newAgent AgentFactory, concurrency int, logger *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool{
		newDriver: newDriver,
		newAgent:  newAgent,
		slots:     make(chan struct{}, concurrency),
		logger:    logger.Named("worker_pool"),
	}
}

// Concurrency returns the pool's limit.
func (p *Pool) Concurrency() int {
	return cap(p.slots)
}

// Run executes every job and returns results in job order. Jobs that never
// started because ctx was cancelled carry ctx's error.
func (p *Pool) Run(ctx context.Context, jobs []Job) []JobResult {
	results := make([]JobResult, len(jobs))
	start := time.Now()

	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = p.RunOne(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	completed := 0
	for _, r := range results {
		if r.Err == nil && r.Result != nil && r.Result.State.Status == agent.StatusCompleted {
			completed++
		}
	}
	p.logger.Info("Batch finished",
		zap.Int("jobs", len(jobs)),
		zap.Int("completed", completed),
		zap.Duration("duration", time.Since(start)))
	return results
}

// Submit starts job in the background and calls done with its result.
func (p *Pool) Submit(ctx context.Context, job Job, done func(JobResult)) {
	go func() {
		res := p.RunOne(ctx, job)
		if done != nil {
			done(res)
		}
	}()
}

// RunOne waits for a free slot, then runs job on a new session which is
// closed afterwards.
func (p *Pool) RunOne(ctx context.Context, job Job) (res JobResult) {
	res.Job = job
	logger := p.logger.With(zap.String("job", job.Name))

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		res.Err = ctx.Err()
		return res
	}
	defer func() { <-p.slots }()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered while running job",
				zap.String("panic_value", fmt.Sprint(r)),
				zap.Stack("stack"))
			res.Err = fmt.Errorf("job %q panicked: %v", job.Name, r)
		}
	}()

	driver, err := p.newDriver(ctx)
	if err != nil {
		res.Err = fmt.Errorf("failed to open browser session: %w", err)
		logger.Warn("Job not started", zap.Error(err))
		return res
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Debug("Error closing browser session", zap.Error(err))
		}
	}()

	result, err := p.newAgent(driver).Run(ctx, job.Request)
	if err != nil {
		res.Err = err
		logger.Warn("Job rejected", zap.Error(err))
		return res
	}
	res.Result = result
	logger.Info("Job finished",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.State.Status)),
		zap.Int("steps", result.State.Step))
	return res
}
