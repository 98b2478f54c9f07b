package history

import (
	"fmt"
	"io"
	"time"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
)

var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// Redactor scrubs real secret values from text.
type Redactor interface {
	RedactAll(text string) string
}

// TargetRef identifies the element a step acted on in a replayable way.
type TargetRef struct {
	Index   int    `json:"index"`
	Tag     string `json:"tag"`
	Key     string `json:"key"`      // Similarity key used to re-find the element.
	KeyHash string `json:"key_hash"` // Compact fingerprint for grouping.
	Label   string `json:"label,omitempty"`
}

// Record is the exported form of one step. It never contains real secret values.
type Record struct {
	Step         int              `json:"step"`
	Timestamp    time.Time        `json:"timestamp"`
	URL          string           `json:"url"`
	Title        string           `json:"title"`
	ElementCount int              `json:"element_count"`
	PageSummary  string           `json:"page_summary,omitempty"`
	Decision     actions.Decision `json:"decision"`
	Target       *TargetRef       `json:"target,omitempty"`
	Result       actions.Result   `json:"result"`
}

// RunExport is the persisted artifact of a whole run.
type RunExport struct {
	RunID      string            `json:"run_id"`
	Task       string            `json:"task"`
	Status     string            `json:"status"`
	ErrorKind  schemas.ErrorKind `json:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Records    []Record          `json:"records"`
}

// ExportOptions controls how much of each snapshot is exported.
type ExportOptions struct {
	// IncludePageSummary embeds the rendered element list of every step.
	IncludePageSummary bool
}

// Export converts every entry of t into a Record, passing every free-text field
// through r. A nil r is only acceptable for runs without secrets.
func Export(t *Tree, r Redactor, opts ExportOptions) []Record {
	scrub := func(s string) string {
		if r == nil {
			return s
		}
		return r.RedactAll(s)
	}

	entries := t.Entries()
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		rec := Record{
			Step:      e.Step,
			Timestamp: e.Timestamp,
			Decision:  e.Decision,
			Result:    e.Result,
		}
		if e.Index != nil {
			rec.URL = scrub(e.Index.URL())
			rec.Title = scrub(e.Index.Title())
			rec.ElementCount = e.Index.Len()
			if opts.IncludePageSummary {
				rec.PageSummary = scrub(e.Index.Render())
			}
			if e.Decision.Index != nil {
				if node, ok := e.Index.Get(*e.Decision.Index); ok {
					rec.Target = &TargetRef{
						Index:   node.Index,
						Tag:     node.Tag,
						Key:     scrub(dom.SimilarityKey(node)),
						KeyHash: dom.KeyHash(node),
						Label:   scrub(node.Text),
					}
				}
			}
		}

		rec.Decision.Reasoning = scrub(rec.Decision.Reasoning)
		for k, v := range rec.Decision.Params {
			rec.Decision.Params[k] = scrub(v)
		}
		rec.Result.Effect = scrub(rec.Result.Effect)
		rec.Result.Content = scrub(rec.Result.Content)
		rec.Result.Error = scrub(rec.Result.Error)
		records = append(records, rec)
	}
	return records
}

// WriteJSON writes an export as indented JSON.
func WriteJSON(w io.Writer, export RunExport) error {
	enc := jsonAPI.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("failed to encode run export: %w", err)
	}
	return nil
}

// ReadJSON reads an export written by WriteJSON.
func ReadJSON(r io.Reader) (RunExport, error) {
	var export RunExport
	if err := jsonAPI.NewDecoder(r).Decode(&export); err != nil {
		return RunExport{}, fmt.Errorf("failed to decode run export: %w", err)
	}
	for i, rec := range export.Records {
		if rec.Step != i {
			return RunExport{}, fmt.Errorf("run export record %d has step %d", i, rec.Step)
		}
	}
	return export, nil
}
