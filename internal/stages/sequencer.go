package stages

import (
	"slices"
	"sync"
	"time"
)

const (
	DefaultDelay = 1500 * time.Millisecond
	DefaultTail  = 500 * time.Millisecond
)

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Options configures a Sequencer.
type Options struct {
	// Delay separates consecutive stages. Zero means DefaultDelay.
	Delay time.Duration

	// Tail is the extra dwell after the last stage before the timer track
	// ends. Zero means DefaultTail.
	Tail time.Duration

	// AfterFunc replaces time.AfterFunc, for tests.
	AfterFunc AfterFunc

	// OnSuperseded is called when Start abandons an unfinished cycle.
	OnSuperseded func()
}

// Sequencer drives State through one cycle per Start.
type Sequencer struct {
	mu      sync.Mutex
	state   State
	gen     uint64
	pending []func() bool

	delay        time.Duration
	tail         time.Duration
	after        AfterFunc
	onSuperseded func()
}

// NewSequencer returns an idle Sequencer.
func NewSequencer(opts Options) *Sequencer {
	s := &Sequencer{
		delay:        opts.Delay,
		tail:         opts.Tail,
		after:        opts.AfterFunc,
		onSuperseded: opts.OnSuperseded,
	}
	if s.delay <= 0 {
		s.delay = DefaultDelay
	}
	if s.tail <= 0 {
		s.tail = DefaultTail
	}
	if s.after == nil {
		s.after = timeAfterFunc
	}
	return s
}

// Start begins a new cycle and returns its generation. Pending transitions
// of the previous cycle are cancelled, and any that already fired but have
// not yet applied are dropped by the generation check.
func (s *Sequencer) Start() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase() == PhaseRunning && s.onSuperseded != nil {
		s.onSuperseded()
	}
	s.cancelLocked()

	s.gen++
	gen := s.gen
	s.state = Reduce(s.state, Start{Gen: gen})

	for i, st := range Stages {
		s.pending = append(s.pending, s.after(time.Duration(i)*s.delay, s.transition(Reach{Gen: gen, Stage: st})))
	}
	end := time.Duration(len(Stages))*s.delay + s.tail
	s.pending = append(s.pending, s.after(end, s.transition(Tick{Gen: gen})))

	return gen
}

// Finish records that the work behind cycle gen settled. The cycle completes
// once its timer track has also ended.
func (s *Sequencer) Finish(gen uint64) {
	s.apply(gen, Finish{Gen: gen})
}

// Fail halts cycle gen so it never reports completion.
func (s *Sequencer) Fail(gen uint64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.state = Reduce(s.state, Halt{Gen: gen, Reason: reason})
	s.cancelLocked()
}

// Stop cancels every pending transition and halts an unfinished cycle.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.state = Reduce(s.state, Halt{Gen: s.gen, Reason: "stopped"})
}

// State returns a copy of the current cycle's state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Log = slices.Clone(s.state.Log)
	return st
}

func (s *Sequencer) transition(ev Event) func() {
	return func() {
		s.apply(ev.generation(), ev)
	}
}

func (s *Sequencer) apply(gen uint64, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.state = Reduce(s.state, ev)
}

func (s *Sequencer) cancelLocked() {
	for _, stop := range s.pending {
		stop()
	}
	s.pending = s.pending[:0]
}
