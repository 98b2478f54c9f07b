package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/llmutil"
	"github.com/xkilldash9x/surfer-cli/internal/vault"
)

const (
	maxParamInPrompt     = 120
	maxContentInPrompt   = 1500
	maxRejectedInPrompt  = 2000
	maxReasoningInPrompt = 200
)

// systemPrompt is identical for every step of every run.
var systemPrompt = buildSystemPrompt()

func buildSystemPrompt() string {
	var sb strings.Builder

	sb.WriteString("You are a web browsing agent. You complete the user's task by operating a real browser one action at a time.\n")

	sb.WriteString("\n## Rules\n")
	sb.WriteString("- Each step you receive the current page as a numbered list of interactive elements. Indices are only valid for that step.\n")
	sb.WriteString("- Choose exactly one action per response.\n")
	sb.WriteString("- Never invent an index that is not in the list.\n")
	sb.WriteString("- Secrets are shown as placeholders like " + vault.Token("name") + ". Use the placeholder itself as text; it is substituted before typing.\n")
	sb.WriteString("- Only navigate to sites inside the allowed domains. Other navigations are rejected.\n")
	sb.WriteString("- When the task is finished, or cannot be finished, use the done action with a summary.\n")

	sb.WriteString("\n## Actions\n")
	sb.WriteString(actions.Describe())

	sb.WriteString("\n## Response Format\n")
	sb.WriteString("Respond with a single JSON object and nothing else:\n")
	sb.WriteString(`{"reasoning": "<short thought>", "action": "<action name>", "index": <element index, when the action takes one>, "params": {"<name>": "<value>"}}` + "\n")
	return sb.String()
}

// userPrompt describes the task, recent history and the current page.
// The caller redacts the result before it leaves the process.
func (r *run) userPrompt(idx *dom.ElementIndex, changes string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Task\n%s\n", r.req.Task)
	fmt.Fprintf(&sb, "\nStep %d of %d.\n", r.state.Step+1, r.maxSteps)

	if names := r.vault.Placeholders(idx.URL()); len(names) > 0 {
		tokens := make([]string, len(names))
		for i, n := range names {
			tokens[i] = vault.Token(n)
		}
		fmt.Fprintf(&sb, "Secret placeholders available on this page: %s\n", strings.Join(tokens, ", "))
	}

	if window := r.tree.Window(r.cfg.HistoryWindow); len(window) > 0 {
		sb.WriteString("\n## Previous Steps\n")
		for _, e := range window {
			sb.WriteString(describeEntry(e))
			sb.WriteByte('\n')
		}
	}

	if r.hint != "" {
		fmt.Fprintf(&sb, "\n## Note\n%s\n", r.hint)
	}
	if changes != "" {
		sb.WriteString("\n## Page Changes\n")
		sb.WriteString(changes)
	}

	sb.WriteString("\n## Current Page\n")
	sb.WriteString(idx.Summary())
	return sb.String()
}

// correctionPrompt asks the model to fix a rejected decision.
func correctionPrompt(err error, idx *dom.ElementIndex) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your previous response was rejected: %v\n", err)
	if idx.Len() > 0 {
		fmt.Fprintf(&sb, "Valid element indices are 0 to %d. ", idx.Len()-1)
	} else {
		sb.WriteString("The page has no interactive elements. ")
	}
	sb.WriteString("Respond again with exactly one JSON object describing a single valid action.")
	return sb.String()
}

func describeEntry(e history.Entry) string {
	d := e.Decision
	var args []string
	if d.Index != nil {
		args = append(args, fmt.Sprintf("index=%d", *d.Index))
	}
	keys := make([]string, 0, len(d.Params))
	for k := range d.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, fmt.Sprintf("%s=%q", k, llmutil.Truncate(d.Params[k], maxParamInPrompt)))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d. %s(%s)", e.Step+1, d.Action, strings.Join(args, ", "))
	if e.Result.Success {
		fmt.Fprintf(&sb, " -> ok: %s", e.Result.Effect)
	} else {
		fmt.Fprintf(&sb, " -> failed [%s]: %s", e.Result.ErrorKind, e.Result.Error)
	}
	if d.Reasoning != "" {
		fmt.Fprintf(&sb, "\n   thought: %s", llmutil.Truncate(d.Reasoning, maxReasoningInPrompt))
	}
	if e.Result.Content != "" {
		sb.WriteString("\n   extracted:\n")
		for _, line := range strings.Split(llmutil.Truncate(e.Result.Content, maxContentInPrompt), "\n") {
			sb.WriteString("   | ")
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
