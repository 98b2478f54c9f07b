// Package history records every agent step, diffs page snapshots across
// steps, and exports or replays the recorded run.
package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
)

// Entry is one recorded step. Entries are never mutated after Append.
type Entry struct {
	Step      int               `json:"step"`
	Index     *dom.ElementIndex `json:"-"` // Pre-action snapshot; immutable.
	Decision  actions.Decision  `json:"decision"`
	Result    actions.Result    `json:"result"`
	Timestamp time.Time         `json:"timestamp"`
}

// Tree is the append-only, ordered log of a run's steps. Reads are safe while a
// run appends, so status endpoints can serve a live run.
type Tree struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// Append adds the next entry. Step numbers start at 0 and must be contiguous.
func (t *Tree) Append(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.Step != len(t.entries) {
		return fmt.Errorf("history entry has step %d, expected %d", e.Step, len(t.entries))
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Decision = copyDecision(e.Decision)
	t.entries = append(t.entries, e)
	return nil
}

// Len returns the number of recorded steps.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns the recorded steps in order.
func (t *Tree) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		e.Decision = copyDecision(e.Decision)
		out[i] = e
	}
	return out
}

// Last returns the most recent entry.
func (t *Tree) Last() (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	e := t.entries[len(t.entries)-1]
	e.Decision = copyDecision(e.Decision)
	return e, true
}

// Window returns up to n of the most recent entries, oldest first.
func (t *Tree) Window(n int) []Entry {
	all := t.Entries()
	if n <= 0 {
		return nil
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Reset discards every entry. Used when an agent is reset for a new task.
func (t *Tree) Reset() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}

func copyDecision(d actions.Decision) actions.Decision {
	c := d
	if d.Index != nil {
		i := *d.Index
		c.Index = &i
	}
	if d.Params != nil {
		c.Params = make(map[string]string, len(d.Params))
		for k, v := range d.Params {
			c.Params[k] = v
		}
	}
	return c
}
