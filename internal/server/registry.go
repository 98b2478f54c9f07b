package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/agent"
	"github.com/xkilldash9x/surfer-cli/internal/worker"
)

// defaultMaxRuns bounds how many runs the registry remembers. Finished runs
// are evicted oldest first; in-flight runs are never evicted.
const defaultMaxRuns = 500

type runEntry struct {
	view   RunView
	result *agent.RunResult
	cancel context.CancelFunc
	subs   map[chan agent.State]struct{}
	done   chan struct{}
}

func (e *runEntry) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// RunRegistry tracks in-flight and recent runs in memory.
type RunRegistry struct {
	mu      sync.RWMutex
	runs    map[string]*runEntry
	order   []string
	maxRuns int
}

func NewRunRegistry(maxRuns int) *RunRegistry {
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}
	return &RunRegistry{
		runs:    make(map[string]*runEntry),
		maxRuns: maxRuns,
	}
}

// Register adds a run in the idle state.
func (r *RunRegistry) Register(id, task string, cancel context.CancelFunc) RunView {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &runEntry{
		view: RunView{
			ID:        id,
			State:     agent.State{Task: task, Status: agent.StatusIdle},
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		subs:   make(map[chan agent.State]struct{}),
		done:   make(chan struct{}),
	}
	r.runs[id] = e
	r.order = append(r.order, id)
	r.evictLocked()
	return e.view
}

// Observe records a state change. Its signature matches agent.Observer.
func (r *RunRegistry) Observe(id string, state agent.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[id]
	if !ok {
		return
	}
	e.view.State = state
	for ch := range e.subs {
		select {
		case ch <- state:
		default:
			// Slow subscriber; it still gets the final state from Subscribe's done channel.
		}
	}
}

// Finish stores the outcome of a job and wakes every subscriber.
func (r *RunRegistry) Finish(id string, res worker.JobResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	e.view.FinishedAt = &now
	switch {
	case res.Result != nil:
		e.result = res.Result
		e.view.State = res.Result.State
	case errors.Is(res.Err, context.Canceled):
		e.view.Error = res.Err.Error()
		e.view.State.Status = agent.StatusCancelled
		e.view.State.LastErrorKind = schemas.ErrKindCancelled
		e.view.State.LastError = res.Err.Error()
	case res.Err != nil:
		e.view.Error = res.Err.Error()
		e.view.State.Status = agent.StatusFailed
		e.view.State.LastErrorKind = schemas.ErrKindInternal
		e.view.State.LastError = res.Err.Error()
	}
	e.cancel = nil
	close(e.done)
	r.evictLocked()
}

// Get returns the view of a run and its result once finished.
func (r *RunRegistry) Get(id string) (RunView, *agent.RunResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.runs[id]
	if !ok {
		return RunView{}, nil, false
	}
	return e.view, e.result, true
}

// List returns every known run, most recent first.
func (r *RunRegistry) List() []RunView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]RunView, 0, len(r.runs))
	for _, e := range r.runs {
		views = append(views, e.view)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].StartedAt.After(views[j].StartedAt) })
	return views
}

// Cancel asks an in-flight run to stop. It reports false when the run is
// unknown or already finished.
func (r *RunRegistry) Cancel(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.runs[id]
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// CancelAll stops every in-flight run.
func (r *RunRegistry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.runs {
		if e.cancel != nil {
			e.cancel()
		}
	}
}

// Subscribe returns a channel of state updates, a channel closed when the run
// finishes, and a function releasing the subscription.
func (r *RunRegistry) Subscribe(id string) (<-chan agent.State, <-chan struct{}, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	if !ok {
		return nil, nil, nil, false
	}
	ch := make(chan agent.State, 16)
	e.subs[ch] = struct{}{}
	unsubscribe := func() {
		r.mu.Lock()
		delete(e.subs, ch)
		r.mu.Unlock()
	}
	return ch, e.done, unsubscribe, true
}

func (r *RunRegistry) evictLocked() {
	for len(r.runs) > r.maxRuns {
		evicted := false
		for i, id := range r.order {
			if e := r.runs[id]; e != nil && e.finished() {
				delete(r.runs, id)
				r.order = append(r.order[:i], r.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}
