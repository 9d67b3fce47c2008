package world

import "github.com/swarmnav/swarm/internal/geom"

// Target is what agents path toward.
type Target interface {
	Position() geom.Vec3
}

// FixedTarget is a target that never moves.
type FixedTarget geom.Vec3

func (t FixedTarget) Position() geom.Vec3 { return geom.Vec3(t) }

// Player is the moving reference the swarm chases. Its position is updated
// by the target system each tick.
type Player struct {
	position geom.Vec3
	moved    uint64
}

func NewPlayer(position geom.Vec3) *Player {
	return &Player{position: position}
}

func (p *Player) Position() geom.Vec3 { return p.position }

func (p *Player) MoveTo(position geom.Vec3) {
	if position != p.position {
		p.position = position
		p.moved++
	}
}

// Moves counts position changes since creation.
func (p *Player) Moves() uint64 { return p.moved }
