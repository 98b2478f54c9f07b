package server

import (
	"time"

	"github.com/xkilldash9x/surfer-cli/internal/agent"
)

// RunRequest is the body of POST /runs. Secrets are never accepted over the
// wire; runs use the server's configured bindings.
type RunRequest struct {
	Task           string   `json:"task"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	MaxSteps       int      `json:"max_steps,omitempty"`
	StartURL       string   `json:"start_url,omitempty"`
}

// RunView is the public view of a run.
type RunView struct {
	ID         string      `json:"id"`
	State      agent.State `json:"state"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	// Error is set when the run was rejected before it started.
	Error string `json:"error,omitempty"`
}

// Response is the envelope of every JSON reply.
type Response struct {
	Status string      `json:"status"` // "success", "accepted" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}
