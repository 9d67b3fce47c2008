package system

import (
	"time"

	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/world"
)

// TargetSource yields the player position at a point in simulated time.
// ok is false when the source has nothing new; the player then stays put.
type TargetSource interface {
	TargetPosition(elapsed time.Duration) (pos geom.Vec3, ok bool)
}

// TargetSystem moves the player along its scripted trajectory.
// Phase 1 (PreUpdate).
type TargetSystem struct {
	player  *world.Player
	source  TargetSource
	elapsed time.Duration
}

func NewTargetSystem(player *world.Player, source TargetSource) *TargetSystem {
	return &TargetSystem{player: player, source: source}
}

func (s *TargetSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *TargetSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.source == nil {
		return
	}
	if pos, ok := s.source.TargetPosition(s.elapsed); ok {
		s.player.MoveTo(pos)
	}
}
