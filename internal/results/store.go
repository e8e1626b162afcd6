package results

import (
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/feedforward/internal/feedback"
)

// ViewStatus distinguishes why a view may be empty.
type ViewStatus string

const (
	// StatusEmpty means nothing has been submitted yet.
	StatusEmpty ViewStatus = "empty"

	// StatusFilteredEmpty means results exist but the filter removed all.
	StatusFilteredEmpty ViewStatus = "filtered_empty"

	StatusOK ViewStatus = "ok"
)

// View is a filtered projection of the current result set.
type View struct {
	Status      ViewStatus              `json:"status"`
	Filter      feedback.Filter         `json:"filter"`
	Sorted      bool                    `json:"sorted"`
	BatchID     string                  `json:"batch_id,omitempty"`
	CommittedAt time.Time               `json:"committed_at,omitzero"`
	Total       int                     `json:"total"`
	Matched     int                     `json:"matched"`
	Results     []feedback.ScoredResult `json:"results"`
}

// Point is one scatter-plot entry of the priority matrix.
type Point struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Z        int    `json:"z"`
	Feedback string `json:"feedback"`
}

// Store is the process-wide result store.
type Store struct {
	mu    sync.RWMutex
	state State
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

func (s *Store) dispatch(a Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, a)
	return s.state
}

// Begin opens a new generation and returns it. Any earlier generation that
// has not committed yet can no longer commit.
func (s *Store) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.state.Latest + 1
	s.state = Reduce(s.state, Begin{Gen: gen})
	return gen
}

// BeginAt opens generation gen, typically a workflow cycle number, so both
// sides of one submission share a generation. It reports false when a newer
// generation is already open; gen can then never commit.
func (s *Store) BeginAt(gen uint64) bool {
	return s.dispatch(Begin{Gen: gen}).Latest == gen
}

// Commit replaces the visible set atomically. It reports false when gen was
// superseded by a newer Begin.
func (s *Store) Commit(gen uint64, batchID string, results []feedback.ScoredResult) bool {
	st := s.dispatch(Commit{Gen: gen, BatchID: batchID, At: time.Now(), Results: results})
	return st.Committed == gen
}

// Abort ends gen leaving the visible set untouched.
func (s *Store) Abort(gen uint64) {
	s.dispatch(Abort{Gen: gen})
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Results = slices.Clone(s.state.Results)
	return st
}

// View filters the current results, optionally ordering them by priority.
func (s *Store) View(f feedback.Filter, sortByPriority bool) View {
	st := s.Snapshot()

	matched := f.Apply(st.Results)
	if sortByPriority {
		matched = feedback.SortByPriority(matched)
	}

	v := View{
		Filter:      f,
		Sorted:      sortByPriority,
		BatchID:     st.BatchID,
		CommittedAt: st.CommittedAt,
		Total:       len(st.Results),
		Matched:     len(matched),
		Results:     matched,
	}
	switch {
	case !st.Submitted:
		v.Status = StatusEmpty
	case len(matched) == 0:
		v.Status = StatusFilteredEmpty
	default:
		v.Status = StatusOK
	}
	return v
}

// Matrix returns the priority-matrix points for the current results.
func (s *Store) Matrix() []Point {
	st := s.Snapshot()
	out := make([]Point, 0, len(st.Results))
	for _, r := range st.Results {
		out = append(out, Point{
			X:        feedback.Ordinal(r.Urgency),
			Y:        feedback.Ordinal(r.Impact),
			Z:        r.PriorityScore,
			Feedback: r.Feedback,
		})
	}
	return out
}
