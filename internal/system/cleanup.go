package system

import (
	"time"

	"github.com/swarmnav/swarm/internal/core/event"
	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/world"
)

// CleanupSystem closes out the tick: it counts ticks and reports how long the
// tick took. Phase 6 (Cleanup).
type CleanupSystem struct {
	state *world.State
	bus   *event.Bus
	now   func() time.Time

	tick  uint64
	start time.Time
}

func NewCleanupSystem(state *world.State, bus *event.Bus, now func() time.Time) *CleanupSystem {
	if now == nil {
		now = time.Now
	}
	return &CleanupSystem{state: state, bus: bus, now: now}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

// Begin marks the start of a tick.
func (s *CleanupSystem) Begin() { s.start = s.now() }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.tick++
	var took time.Duration
	if !s.start.IsZero() {
		took = s.now().Sub(s.start)
	}
	event.Emit(s.bus, event.TickCompleted{
		Tick:     s.tick,
		Duration: took.Seconds(),
		Agents:   s.state.AgentCount(),
	})
}

// Ticks returns the number of completed ticks.
func (s *CleanupSystem) Ticks() uint64 { return s.tick }
