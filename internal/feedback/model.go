package feedback

import "strings"

// Category is the ordinal classification of urgency or impact.
type Category string

const (
	Low    Category = "Low"
	Medium Category = "Medium"
	High   Category = "High"

	// Error marks a result whose classification failed.
	Error Category = "Error"
)

// DefaultCategory is substituted when the classifier omits a field.
const DefaultCategory = Medium

// FailedSummary is the summary carried by a sentinel result.
const FailedSummary = "Failed to classify"

// Categories returns the valid categories in ascending order.
func Categories() []Category {
	return []Category{Low, Medium, High, Error}
}

// ParseCategory maps s to a Category ignoring case and surrounding space.
// The bool reports whether s named a known category.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, true
	case "medium":
		return Medium, true
	case "high":
		return High, true
	case "error":
		return Error, true
	}
	return "", false
}

// Record is one feedback entry to classify. Fields carries passthrough CSV
// columns keyed by header; Line is the 1-based source line (0 for manual
// submissions).
type Record struct {
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
	Line   int               `json:"line,omitempty"`
}

// Field returns the passthrough column named key, or "".
func (r Record) Field(key string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[key]
}

// Result is the normalized outcome of classifying one feedback text.
type Result struct {
	Feedback string   `json:"feedback"`
	Urgency  Category `json:"urgency"`
	Impact   Category `json:"impact"`
	Summary  string   `json:"summary"`
	Reason   string   `json:"reason"`
}

// Failed reports whether r is the sentinel produced by a failed call.
func (r Result) Failed() bool {
	return r.Urgency == Error && r.Impact == Error
}

// Sentinel builds the result recorded when classifying text failed.
func Sentinel(text string) Result {
	return Result{
		Feedback: text,
		Urgency:  Error,
		Impact:   Error,
		Summary:  FailedSummary,
	}
}

// ScoredResult is a Result augmented with its priority score and the
// provenance columns shown in the detail table.
type ScoredResult struct {
	Result
	PriorityScore int    `json:"priority_score"`
	Source        string `json:"source"`
	Date          string `json:"date"`
}

// Scored derives a ScoredResult from r.
func Scored(r Result, source, date string) ScoredResult {
	return ScoredResult{
		Result:        r,
		PriorityScore: Score(r.Urgency, r.Impact),
		Source:        source,
		Date:          date,
	}
}
