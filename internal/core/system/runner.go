package system

import (
	"sort"
	"time"
)

// Timings holds the wall time each phase took during one tick.
type Timings [PhaseCount]time.Duration

// Runner executes systems in phase order each tick and records per-phase
// timings. Systems sharing a phase run in registration order. Not safe for
// concurrent use: the simulation goroutine owns it.
type Runner struct {
	systems []System
	sorted  bool
	now     func() time.Time
	last    Timings
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for phase timings.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

func (r *Runner) Register(s System) {
	if s == nil {
		return
	}
	r.systems = append(r.systems, s)
	r.sorted = false
}

func (r *Runner) Len() int { return len(r.systems) }

// Tick runs every system once. A phase's time runs from the end of the
// previous phase to the end of its last system.
func (r *Runner) Tick(dt time.Duration) {
	r.ensureSorted()
	r.last = Timings{}
	start := r.now()
	for i, s := range r.systems {
		s.Update(dt)
		if i+1 < len(r.systems) && r.systems[i+1].Phase() == s.Phase() {
			continue
		}
		end := r.now()
		if p := s.Phase(); p >= 0 && int(p) < PhaseCount {
			r.last[p] += end.Sub(start)
		}
		start = end
	}
}

// LastTick returns the phase timings of the most recent Tick.
func (r *Runner) LastTick() Timings { return r.last }

// TickPhase runs only the systems of one phase, untimed. The main loop uses
// it to drain deferred results and viewer input between full ticks.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(dt)
		}
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
