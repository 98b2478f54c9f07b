package history

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/surfer-cli/internal/dom"
)

// ChangeStatus classifies a node of the newer snapshot.
type ChangeStatus string

const (
	StatusAdded     ChangeStatus = "added"
	StatusUnchanged ChangeStatus = "unchanged"
	StatusMoved     ChangeStatus = "moved"
)

// Change is the classification of one node of the newer snapshot.
type Change struct {
	Index     int          `json:"index"`
	PrevIndex int          `json:"prev_index"` // -1 when Added.
	Status    ChangeStatus `json:"status"`
}

// DiffResult classifies every node of the newer snapshot exactly once and lists
// the older nodes that found no match.
type DiffResult struct {
	Changes []Change `json:"changes"`
	Removed []int    `json:"removed,omitempty"`
}

// Diff matches the nodes of next against prev by similarity key. Raw indices
// are snapshot-local and never used as identity. When several prev nodes share
// a key, the one nearest in document order to the next node's position wins.
func Diff(prev, next *dom.ElementIndex) DiffResult {
	var res DiffResult
	if next == nil {
		next = dom.Build(nil)
	}
	used := map[int]bool{}
	for i := 0; i < next.Len(); i++ {
		change := Change{Index: i, PrevIndex: -1, Status: StatusAdded}
		if prev != nil {
			if p := dom.NearestUnused(prev.Candidates(next.Key(i)), i, used); p >= 0 {
				used[p] = true
				change.PrevIndex = p
				change.Status = StatusUnchanged
				if p != i {
					change.Status = StatusMoved
				}
			}
		}
		res.Changes = append(res.Changes, change)
	}
	if prev != nil {
		for p := 0; p < prev.Len(); p++ {
			if !used[p] {
				res.Removed = append(res.Removed, p)
			}
		}
	}
	return res
}

// Added returns the next-snapshot indices of newly appeared nodes.
func (r DiffResult) Added() []int {
	var out []int
	for _, c := range r.Changes {
		if c.Status == StatusAdded {
			out = append(out, c.Index)
		}
	}
	return out
}

// Count returns how many changes have the given status.
func (r DiffResult) Count(s ChangeStatus) int {
	n := 0
	for _, c := range r.Changes {
		if c.Status == s {
			n++
		}
	}
	return n
}

// Changed reports whether any node appeared or disappeared.
func (r DiffResult) Changed() bool {
	return len(r.Removed) > 0 || r.Count(StatusAdded) > 0
}

const maxDescribedElements = 10

// Describe renders the diff as a short hint for the model, or "" when nothing
// appeared or disappeared.
func (r DiffResult) Describe(next *dom.ElementIndex) string {
	if !r.Changed() {
		return ""
	}
	var sb strings.Builder
	added := r.Added()
	if len(added) > 0 {
		fmt.Fprintf(&sb, "%d new element(s) appeared since the last step:\n", len(added))
		for i, idx := range added {
			if i == maxDescribedElements {
				fmt.Fprintf(&sb, "... and %d more\n", len(added)-maxDescribedElements)
				break
			}
			sb.WriteString(next.RenderNode(idx))
			sb.WriteByte('\n')
		}
	}
	if len(r.Removed) > 0 {
		fmt.Fprintf(&sb, "%d element(s) disappeared since the last step.\n", len(r.Removed))
	}
	return sb.String()
}
