package world

import (
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/nav"
)

// Agent is one swarm member. Agents live in State.Agents and are only
// mutated on the simulation goroutine.
type Agent struct {
	Handle   nav.Handle // avoidance registration, zero when not registered
	Instance int        // render instance slot

	Transform geom.Transform

	// Path holds the waypoints toward the target. PathIndex is the next
	// waypoint to track; PathIndex == len(Path) means no waypoint remains.
	Path      []geom.Vec3
	PathIndex int

	PreviousVelocity geom.Vec3 // smoothed velocity from the last integration
	Velocity         geom.Vec3 // last desired velocity submitted

	AvoidanceEnabled bool

	// Refreshed by the distance pipeline.
	DistanceToTargetSq float32 // -1 until the first refresh
	DistanceToPlayerSq float32
	TargetReachable    bool

	PathQueriesSkipped    int
	PathQueriesSkippedMax int
}

// NewAgent returns an agent at position with an identity basis and the
// cached fields in their initial state.
func NewAgent(instance int, position geom.Vec3, skippedMax int) Agent {
	return Agent{
		Instance:              instance,
		Transform:             geom.NewTransform(position),
		DistanceToTargetSq:    -1,
		TargetReachable:       true,
		PathQueriesSkippedMax: skippedMax,
	}
}

func (a *Agent) Position() geom.Vec3 { return a.Transform.Origin }

// HasWaypoint reports whether PathIndex points at a waypoint.
func (a *Agent) HasWaypoint() bool {
	return a.PathIndex >= 0 && a.PathIndex < len(a.Path)
}

// Waypoint returns the tracked waypoint, or the agent's own position when
// the path is exhausted.
func (a *Agent) Waypoint() geom.Vec3 {
	if a.HasWaypoint() {
		return a.Path[a.PathIndex]
	}
	return a.Transform.Origin
}

// LastWaypoint returns the final path point; ok is false for an empty path.
func (a *Agent) LastWaypoint() (p geom.Vec3, ok bool) {
	if len(a.Path) == 0 {
		return geom.Zero, false
	}
	return a.Path[len(a.Path)-1], true
}
