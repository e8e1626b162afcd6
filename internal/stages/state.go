// Package stages models the five-stage pipeline animation shown while
// feedback is processed. Progress is driven by fixed delays; a generation
// counter keeps timers from an abandoned cycle out of the current one.
package stages

import (
	"fmt"
	"slices"
)

// Stage is one named step of the pipeline.
type Stage string

const (
	Input          Stage = "input"
	Preprocessing  Stage = "preprocessing"
	Classification Stage = "classification"
	Ranking        Stage = "ranking"
	Output         Stage = "output"
)

// Stages lists every stage in the order they light up.
var Stages = []Stage{Input, Preprocessing, Classification, Ranking, Output}

var stageInfo = map[Stage]struct{ label, message string }{
	Input:          {"Input Node", "Feedback received"},
	Preprocessing:  {"Preprocessing Node", "Cleaning and normalizing text"},
	Classification: {"LLM Classification Node", "Analyzing urgency and impact"},
	Ranking:        {"Ranking Node", "Prioritizing feedback"},
	Output:         {"Output Node", "Generating final report"},
}

// Label is the display name of s.
func (s Stage) Label() string { return stageInfo[s].label }

func (s Stage) index() int { return slices.Index(Stages, s) }

// CompleteLine is the final log line of a finished cycle.
const CompleteLine = "Workflow complete!"

// Phase summarizes a State.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseHalted   Phase = "halted"
)

// State is the visible progress of one cycle. Stage flags are set true in
// order and only reset by the next Start.
type State struct {
	Gen            uint64   `json:"generation"`
	Input          bool     `json:"input"`
	Preprocessing  bool     `json:"preprocessing"`
	Classification bool     `json:"classification"`
	Ranking        bool     `json:"ranking"`
	Output         bool     `json:"output"`
	Complete       bool     `json:"complete"`
	Halted         bool     `json:"halted"`
	Reason         string   `json:"reason,omitempty"`
	Active         Stage    `json:"active,omitempty"`
	Log            []string `json:"log"`

	timersDone bool
	workDone   bool
}

// Reached reports whether stage s has lit up.
func (st State) Reached(s Stage) bool {
	switch s {
	case Input:
		return st.Input
	case Preprocessing:
		return st.Preprocessing
	case Classification:
		return st.Classification
	case Ranking:
		return st.Ranking
	case Output:
		return st.Output
	}
	return false
}

func (st *State) set(s Stage) {
	switch s {
	case Input:
		st.Input = true
	case Preprocessing:
		st.Preprocessing = true
	case Classification:
		st.Classification = true
	case Ranking:
		st.Ranking = true
	case Output:
		st.Output = true
	}
}

// Phase reports where the cycle is.
func (st State) Phase() Phase {
	switch {
	case st.Gen == 0:
		return PhaseIdle
	case st.Halted:
		return PhaseHalted
	case st.Complete:
		return PhaseComplete
	default:
		return PhaseRunning
	}
}

// Event is a state transition request.
type Event interface {
	generation() uint64
}

// Start opens cycle Gen with every flag cleared.
type Start struct{ Gen uint64 }

// Reach lights up Stage in cycle Gen.
type Reach struct {
	Gen   uint64
	Stage Stage
}

// Tick marks the end of cycle Gen's timer track.
type Tick struct{ Gen uint64 }

// Finish records that the real work of cycle Gen settled.
type Finish struct{ Gen uint64 }

// Halt stops cycle Gen without completing it.
type Halt struct {
	Gen    uint64
	Reason string
}

func (e Start) generation() uint64  { return e.Gen }
func (e Reach) generation() uint64  { return e.Gen }
func (e Tick) generation() uint64   { return e.Gen }
func (e Finish) generation() uint64 { return e.Gen }
func (e Halt) generation() uint64   { return e.Gen }

// Reduce applies ev to prev. It never mutates prev. Events for any cycle
// other than the current one, and events after the cycle ended, are no-ops.
func Reduce(prev State, ev Event) State {
	if s, ok := ev.(Start); ok {
		if s.Gen <= prev.Gen {
			return prev
		}
		return State{Gen: s.Gen, Log: []string{}}
	}

	if ev.generation() != prev.Gen || prev.Gen == 0 || prev.Halted || prev.Complete {
		return prev
	}

	next := prev
	switch e := ev.(type) {
	case Reach:
		i := e.Stage.index()
		if i < 0 || prev.Reached(e.Stage) {
			return prev
		}
		next = lightThrough(prev, i)
	case Tick:
		next = lightThrough(prev, len(Stages)-1)
		next.timersDone = true
	case Finish:
		next.workDone = true
	case Halt:
		next.Halted = true
		next.Reason = e.Reason
		next.Log = appendLog(prev.Log, "Workflow stopped: "+e.Reason)
		return next
	default:
		return prev
	}

	if next.timersDone && next.workDone && next.Output {
		next.Complete = true
		next.Log = appendLog(next.Log, CompleteLine)
	}
	return next
}

// lightThrough lights every unlit stage up to and including Stages[i], in
// order, so a stage whose timer fired early never leaves a gap behind it.
func lightThrough(prev State, i int) State {
	next := prev
	for _, st := range Stages[:i+1] {
		if next.Reached(st) {
			continue
		}
		next.set(st)
		next.Active = st
		next.Log = appendLog(next.Log, fmt.Sprintf("[%s] → %s", st.Label(), stageInfo[st].message))
	}
	return next
}

// appendLog appends without sharing the backing array of log.
func appendLog(log []string, line string) []string {
	return append(slices.Clip(log), line)
}
