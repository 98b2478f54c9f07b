package agent

import (
	"github.com/xkilldash9x/surfer-cli/api/schemas"
)

// Status is the lifecycle phase of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// State is the observable state of one run. Error text is redacted.
type State struct {
	Task          string            `json:"task"`
	Step          int               `json:"step"`
	Status        Status            `json:"status"`
	LastError     string            `json:"last_error,omitempty"`
	LastErrorKind schemas.ErrorKind `json:"last_error_kind,omitempty"`
	// Summary and Succeeded come from the done action.
	Summary   string `json:"summary,omitempty"`
	Succeeded bool   `json:"succeeded"`
}
