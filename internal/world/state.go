package world

import (
	"math/rand"
	"sync/atomic"

	"github.com/swarmnav/swarm/internal/geom"
)

// State is the agent store. Agents and batches are created once at spawn
// and never resized. Accessed only from the simulation goroutine, except
// TornDown which any goroutine may read.
type State struct {
	Agents  []Agent
	Batches [][]int

	Target Target
	Player *Player

	// MovementDelta is speed * tick delta of the current physics tick; the
	// avoidance callback caps per-tick displacement with it.
	MovementDelta float32

	tornDown atomic.Bool
}

// NewState spawns count agents with layout and partitions them into
// batchCount batches. The swarm chases player unless Target is replaced.
func NewState(count, batchCount, skippedMax int, layout SpawnLayout, player *Player, rng *rand.Rand) *State {
	agents := make([]Agent, count)
	for i := range agents {
		agents[i] = NewAgent(i, layout.Position(i), skippedMax)
	}
	s := &State{
		Agents:  agents,
		Batches: Partition(count, batchCount, rng),
		Player:  player,
	}
	if player != nil {
		s.Target = player
	}
	return s
}

func (s *State) AgentCount() int { return len(s.Agents) }
func (s *State) BatchCount() int { return len(s.Batches) }

// TargetPosition returns where the swarm is heading this tick.
func (s *State) TargetPosition() geom.Vec3 {
	if s.Target == nil {
		return geom.Zero
	}
	return s.Target.Position()
}

// PlayerPosition returns the reference position used for player distance.
func (s *State) PlayerPosition() geom.Vec3 {
	if s.Player == nil {
		return s.TargetPosition()
	}
	return s.Player.Position()
}

// TearDown marks the state dead. Late worker or solver callbacks check
// TornDown and drop their results.
func (s *State) TearDown()      { s.tornDown.Store(true) }
func (s *State) TornDown() bool { return s.tornDown.Load() }

// CopyTransforms writes every agent transform into dst, which must hold
// AgentCount entries.
func (s *State) CopyTransforms(dst []geom.Transform) {
	for i := range s.Agents {
		dst[i] = s.Agents[i].Transform
	}
}
