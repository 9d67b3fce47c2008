package world

import (
	"math"
	"math/rand"

	"github.com/swarmnav/swarm/internal/geom"
)

// SpawnLayout places agents on a grid behind the origin.
type SpawnLayout struct {
	PerRow      int     // agents per row along X
	Spacing     float32 // gap added to the 1-unit grid step
	MinDistance float32 // distance of the first row from the origin along -Z
	HalfHeight  float32 // Y of every agent
	Origin      geom.Vec3
}

// Position returns the spawn position of agent i. Rows are centred on X and
// grow away from the origin along -Z.
func (l SpawnLayout) Position(i int) geom.Vec3 {
	perRow := l.PerRow
	if perRow < 1 {
		perRow = 1
	}
	x := float32(i % perRow)
	z := float32(i / perRow)
	step := 1 + l.Spacing
	return geom.Vec3{
		X: l.Origin.X - float32(perRow/2) + x*step,
		Y: l.Origin.Y + l.HalfHeight,
		Z: l.Origin.Z - l.MinDistance - z*step,
	}
}

// SelectAvoidance picks floor(ratio*n) distinct agent indices uniformly at
// random. ratio is clamped to [0, 1].
func SelectAvoidance(n int, ratio float64, rng *rand.Rand) []int {
	ratio = math.Max(0, math.Min(1, ratio))
	k := int(math.Floor(ratio * float64(n)))
	if k == 0 {
		return nil
	}
	return rng.Perm(n)[:k]
}
