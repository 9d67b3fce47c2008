package system

import (
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/world"
)

// Reanchor fits a freshly computed path to where the agent is now. Path
// queries run on a snapshot, so by the time the result arrives the first
// waypoints may lie behind the agent. Leading waypoints whose direction
// opposes the agent's current heading are moved onto the agent and skipped,
// up to breakLimit of them; past that the path is taken as a genuine backward
// route and followed from the start. The waypoint just before the returned
// start index (or index 0) is moved onto the agent so the path begins at its
// live position.
//
// Agents without a tracked waypoint have no heading and start at 0
// untouched.
func Reanchor(a *world.Agent, path []geom.Vec3, breakLimit int) int {
	if len(path) == 0 || !a.HasWaypoint() {
		return 0
	}
	pos := a.Position()
	heading := pos.DirectionTo(a.Path[a.PathIndex])

	start := 0
	for i, p := range path {
		if heading.Dot(pos.DirectionTo(p)) >= 0 {
			break
		}
		path[i] = pos
		start++
		if start > breakLimit {
			start = 0
			break
		}
	}

	start %= len(path)
	if start == 0 {
		path[0] = pos
	} else {
		path[start-1] = pos
	}
	return start
}
