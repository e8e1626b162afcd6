// Package results holds the current classified result set. Transitions are
// a pure reducer over State; Store serializes them behind a mutex.
package results

import (
	"slices"
	"time"

	"github.com/linnemanlabs/feedforward/internal/feedback"
)

// State is the visible result set plus the generation bookkeeping that
// keeps superseded actions from writing into it.
type State struct {
	// Latest is the generation of the most recently begun action.
	Latest uint64

	// Committed is the generation whose results are visible.
	Committed uint64

	// Submitted is false until the first successful commit.
	Submitted bool

	BatchID     string
	CommittedAt time.Time
	Results     []feedback.ScoredResult
}

// Action is a state transition request.
type Action interface {
	isAction()
}

// Begin records that a submit/process action with generation Gen started.
type Begin struct {
	Gen uint64
}

// Commit replaces the visible set with Results if Gen is still the latest.
type Commit struct {
	Gen     uint64
	BatchID string
	At      time.Time
	Results []feedback.ScoredResult
}

// Abort ends generation Gen without touching the visible set.
type Abort struct {
	Gen uint64
}

func (Begin) isAction()  {}
func (Commit) isAction() {}
func (Abort) isAction()  {}

// Reduce applies a to prev and returns the next state. It never mutates
// prev. Stale generations leave the state unchanged.
func Reduce(prev State, a Action) State {
	switch a := a.(type) {
	case Begin:
		if a.Gen <= prev.Latest {
			return prev
		}
		next := prev
		next.Latest = a.Gen
		return next
	case Commit:
		if a.Gen != prev.Latest || a.Gen == prev.Committed {
			return prev
		}
		next := prev
		next.Committed = a.Gen
		next.Submitted = true
		next.BatchID = a.BatchID
		next.CommittedAt = a.At
		next.Results = slices.Clone(a.Results)
		return next
	case Abort:
		return prev
	}
	return prev
}
