package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/feedforward/internal/feedback"
	"github.com/linnemanlabs/feedforward/internal/llm/claude"
)

// maxInsightRows bounds how many results are sent in one prompt.
const maxInsightRows = 200

const insightSystem = `You analyze customer feedback that has already been classified by urgency and impact.
Write a short plain-text briefing for a product team: the recurring themes, the most urgent problems,
and one concrete next step for each. Do not invent feedback that is not listed.`

// Completer is the subset of the Claude client used here.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (*claude.Completion, error)
}

// Insights serves generate_insights locally by summarizing the current
// results with an LLM.
type Insights struct {
	llm     Completer
	results func() []feedback.ScoredResult
}

// NewInsights builds the local insights action. results returns the
// current result set.
func NewInsights(llm Completer, results func() []feedback.ScoredResult) *Insights {
	return &Insights{llm: llm, results: results}
}

func (a *Insights) Name() string { return "generate_insights" }

func (a *Insights) Description() string {
	return "Summarize themes across the current feedback."
}

func (a *Insights) Params() []string { return nil }

func (a *Insights) Execute(ctx context.Context, _ map[string]string) (*Output, error) {
	results := a.results()
	if len(results) == 0 {
		return nil, feedback.Invalid("no results to analyze, submit feedback first")
	}

	c, err := a.llm.Complete(ctx, insightSystem, insightPrompt(results))
	if err != nil {
		return nil, fmt.Errorf("%w: generate_insights: %w", feedback.ErrNetwork, err)
	}
	return &Output{Insight: c.Text}, nil
}

// insightPrompt lists the highest priority rows first, skipping failures.
func insightPrompt(results []feedback.ScoredResult) string {
	var b strings.Builder
	rows := 0
	for _, r := range feedback.SortByPriority(results) {
		if r.Failed() {
			continue
		}
		if rows == maxInsightRows {
			break
		}
		rows++
		fmt.Fprintf(&b, "- [urgency=%s impact=%s score=%d] %s", r.Urgency, r.Impact, r.PriorityScore, oneLine(r.Feedback))
		if r.Summary != "" {
			fmt.Fprintf(&b, " (summary: %s)", oneLine(r.Summary))
		}
		b.WriteByte('\n')
	}
	return fmt.Sprintf("%d classified feedback items:\n%s", rows, b.String())
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
