package feedback

import (
	"cmp"
	"slices"
)

// Ordinal maps a category to its position on the Low..High axis.
// Error and unknown values map to 0.
func Ordinal(c Category) int {
	switch c {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	default:
		return 0
	}
}

// Score is the priority of an (urgency, impact) pair: the product of their
// ordinals, 1..9 for valid categories and 0 when either side is Error.
func Score(urgency, impact Category) int {
	return Ordinal(urgency) * Ordinal(impact)
}

// SortByPriority returns a copy of results ordered by descending priority
// score. Equal scores keep their original relative order.
func SortByPriority(results []ScoredResult) []ScoredResult {
	out := slices.Clone(results)
	slices.SortStableFunc(out, func(a, b ScoredResult) int {
		return cmp.Compare(b.PriorityScore, a.PriorityScore)
	})
	return out
}

// UrgentScore is the lowest score that counts as urgent: High on one axis
// and at least Medium on the other.
const UrgentScore = 6

// Urgent returns the results scoring at least UrgentScore, highest first.
func Urgent(results []ScoredResult) []ScoredResult {
	var out []ScoredResult
	for _, r := range results {
		if r.PriorityScore >= UrgentScore {
			out = append(out, r)
		}
	}
	return SortByPriority(out)
}
