package nav

import (
	"github.com/swarmnav/swarm/internal/core/ecs"
	"github.com/swarmnav/swarm/internal/geom"
)

// MapID names one navigation map.
type MapID int

// Handle identifies an agent registered with an avoidance solver.
// The zero handle means "not registered".
type Handle = ecs.ID

// Navigator answers path queries. Implementations must be safe for
// concurrent FindPath calls from several batch workers.
type Navigator interface {
	// FindPath returns waypoints from start toward end. An empty result means
	// no route exists (or, without allowPartial, that end is unreachable).
	FindPath(mapID MapID, start, end geom.Vec3, allowPartial bool) []geom.Vec3
	// MapReady reports whether the map has been built and can answer queries.
	MapReady(mapID MapID) bool
}

// AgentParams are the per-agent avoidance parameters fixed at registration.
type AgentParams struct {
	Radius           float32
	MaxNeighbors     int
	NeighborDistance float32
	TimeHorizon      float32
	MaxSpeed         float32
	Priority         float32
}

// VelocityFunc receives the solver's safe velocity for one agent. It may be
// called from any goroutine.
type VelocityFunc func(safe geom.Vec3)

// Avoidance is a velocity-obstacle style solver: agents submit a desired
// velocity and later receive a collision-free one through their callback.
type Avoidance interface {
	Register(p AgentParams, position geom.Vec3, cb VelocityFunc) Handle
	SetVelocity(h Handle, desired geom.Vec3)
	SetPosition(h Handle, position geom.Vec3)
	Unregister(h Handle)
}
