// Package report renders the current result set as the weekly feedback
// report, either as JSON or as a Markdown table.
package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/feedforward/internal/feedback"
)

// Format selects the report encoding.
type Format string

const (
	JSON     Format = "json"
	Markdown Format = "md"
)

// ParseFormat accepts json or md, ignoring case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case JSON, Markdown:
		return f, nil
	}
	return "", feedback.Invalid(fmt.Sprintf("unsupported format %q, choose json or md", s))
}

// Issue is one row of the report.
type Issue struct {
	Issue         string            `json:"issue"`
	Urgency       feedback.Category `json:"urgency"`
	Impact        feedback.Category `json:"impact"`
	Summary       string            `json:"summary"`
	Reason        string            `json:"reason"`
	PriorityScore int               `json:"priority_score"`
}

// Weekly is the JSON document shape.
type Weekly struct {
	WeekOf    string  `json:"week_of"`
	TopIssues []Issue `json:"top_issues"`
}

// Report is a rendered document ready to be served as an attachment.
type Report struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Render encodes results in format, dated now. Results are written in the
// order given.
func Render(results []feedback.ScoredResult, format Format, now time.Time) (*Report, error) {
	date := now.Format(time.DateOnly)

	issues := make([]Issue, len(results))
	for i, r := range results {
		issues[i] = Issue{
			Issue:         r.Feedback,
			Urgency:       r.Urgency,
			Impact:        r.Impact,
			Summary:       r.Summary,
			Reason:        r.Reason,
			PriorityScore: r.PriorityScore,
		}
	}

	switch format {
	case JSON:
		body, err := json.MarshalIndent(Weekly{WeekOf: date, TopIssues: issues}, "", "    ")
		if err != nil {
			return nil, fmt.Errorf("marshal report: %w", err)
		}
		return &Report{
			Filename:    "weekly_report_" + date + ".json",
			ContentType: "application/json",
			Body:        body,
		}, nil

	case Markdown:
		var b strings.Builder
		fmt.Fprintf(&b, "# Weekly Feedback Report (%s)\n\n", date)
		b.WriteString("| Issue | Urgency | Impact | Summary | Reason |\n")
		b.WriteString("|-------|--------|-------|---------|--------|\n")
		for _, is := range issues {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				cell(is.Issue), cell(string(is.Urgency)), cell(string(is.Impact)), cell(is.Summary), cell(is.Reason))
		}
		return &Report{
			Filename:    "weekly_report_" + date + ".md",
			ContentType: "text/markdown; charset=utf-8",
			Body:        []byte(b.String()),
		}, nil
	}

	return nil, feedback.Invalid(fmt.Sprintf("unsupported format %q, choose json or md", format))
}

var cellReplacer = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")

// cell keeps a value on one table row.
func cell(s string) string {
	return cellReplacer.Replace(s)
}
