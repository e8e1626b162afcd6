package feedback

import (
	"fmt"
	"strings"
)

// All is the filter value that matches every category.
const All = "All"

// Filter selects results by urgency and impact. Each side holds a Category
// name or All.
type Filter struct {
	Urgency string `json:"urgency"`
	Impact  string `json:"impact"`
}

// NoFilter matches every result.
var NoFilter = Filter{Urgency: All, Impact: All}

// ParseFilter builds a Filter from user supplied values. Empty values mean
// All; anything else must name a Category.
func ParseFilter(urgency, impact string) (Filter, error) {
	u, err := parseFilterValue("urgency", urgency)
	if err != nil {
		return Filter{}, err
	}
	i, err := parseFilterValue("impact", impact)
	if err != nil {
		return Filter{}, err
	}
	return Filter{Urgency: u, Impact: i}, nil
}

func parseFilterValue(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, All) {
		return All, nil
	}
	c, ok := ParseCategory(v)
	if !ok {
		return "", Invalid(fmt.Sprintf("invalid %s filter %q", field, v))
	}
	return string(c), nil
}

// Matches reports whether r passes the filter.
func (f Filter) Matches(r Result) bool {
	return matchSide(f.Urgency, r.Urgency) && matchSide(f.Impact, r.Impact)
}

func matchSide(want string, got Category) bool {
	return want == "" || want == All || Category(want) == got
}

// Apply returns the results that pass f in their original order. The
// returned slice never aliases results.
func (f Filter) Apply(results []ScoredResult) []ScoredResult {
	out := make([]ScoredResult, 0, len(results))
	for _, r := range results {
		if f.Matches(r.Result) {
			out = append(out, r)
		}
	}
	return out
}
