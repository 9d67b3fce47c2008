package data

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/nav"
)

// MapInfo describes the walkable area, loaded from the scenario's map block.
type MapInfo struct {
	MapID    int        `yaml:"map_id"`
	Name     string     `yaml:"name"`
	Width    int        `yaml:"width"`  // cells along X
	Height   int        `yaml:"height"` // cells along Z
	CellSize float32    `yaml:"cell_size"`
	Origin   [3]float32 `yaml:"origin"` // world position of cell (0,0)'s corner
}

// Obstacle is an axis-aligned blocked rectangle on the XZ plane.
type Obstacle struct {
	Name string  `yaml:"name"`
	MinX float32 `yaml:"min_x"`
	MinZ float32 `yaml:"min_z"`
	MaxX float32 `yaml:"max_x"`
	MaxZ float32 `yaml:"max_z"`
}

// RouteInfo is the fallback target trajectory used when scripting is off:
// the target walks the waypoints in order at Speed, looping if Loop is set.
type RouteInfo struct {
	Speed     float32      `yaml:"speed"`
	Loop      bool         `yaml:"loop"`
	Waypoints [][2]float32 `yaml:"waypoints"` // (x, z)
}

// Scenario is one YAML scenario file.
type Scenario struct {
	Map       MapInfo    `yaml:"map"`
	Obstacles []Obstacle `yaml:"obstacles"`
	Spawn     struct {
		Origin [3]float32 `yaml:"origin"`
	} `yaml:"spawn"`
	Target struct {
		Start [3]float32 `yaml:"start"`
		Route RouteInfo  `yaml:"route"`
	} `yaml:"target"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	return ParseScenario(raw)
}

// ParseScenario decodes scenario YAML.
func ParseScenario(raw []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.Map.Width <= 0 || s.Map.Height <= 0 {
		return nil, fmt.Errorf("scenario map %q: invalid size %dx%d", s.Map.Name, s.Map.Width, s.Map.Height)
	}
	if s.Map.CellSize <= 0 {
		s.Map.CellSize = 1
	}
	for i, o := range s.Obstacles {
		if o.MaxX < o.MinX || o.MaxZ < o.MinZ {
			return nil, fmt.Errorf("scenario obstacle %d (%s): inverted bounds", i, o.Name)
		}
	}
	return &s, nil
}

// MapID returns the navigation map identifier.
func (s *Scenario) MapID() nav.MapID { return nav.MapID(s.Map.MapID) }

// SpawnOrigin is the offset added to every spawn position.
func (s *Scenario) SpawnOrigin() geom.Vec3 { return vec(s.Spawn.Origin) }

// TargetStart is where the chased reference begins.
func (s *Scenario) TargetStart() geom.Vec3 { return vec(s.Target.Start) }

// BuildGrid rasterises the map and its obstacles into a navigation grid.
func (s *Scenario) BuildGrid() *nav.Grid {
	g := nav.NewGrid(s.Map.Width, s.Map.Height, s.Map.CellSize, vec(s.Map.Origin))
	for _, o := range s.Obstacles {
		g.BlockRect(o.MinX, o.MinZ, o.MaxX, o.MaxZ)
	}
	return g
}

// Route returns the YAML trajectory as a target source, or nil when the
// scenario has fewer than two waypoints.
func (s *Scenario) Route() *Route {
	r := s.Target.Route
	if len(r.Waypoints) < 2 || r.Speed <= 0 {
		return nil
	}
	y := s.Target.Start[1]
	pts := make([]geom.Vec3, len(r.Waypoints))
	for i, w := range r.Waypoints {
		pts[i] = geom.V(w[0], y, w[1])
	}
	if r.Loop {
		pts = append(pts, pts[0])
	}
	cum := make([]float32, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + pts[i-1].Sub(pts[i]).Length()
	}
	return &Route{points: pts, cum: cum, speed: r.Speed, loop: r.Loop}
}

// Route walks a polyline at constant speed.
type Route struct {
	points []geom.Vec3
	cum    []float32 // distance along the route at each point
	speed  float32
	loop   bool
}

// TargetPosition returns the position after elapsed time along the route.
func (r *Route) TargetPosition(elapsed time.Duration) (geom.Vec3, bool) {
	total := r.cum[len(r.cum)-1]
	if total == 0 {
		return r.points[0], true
	}
	d := r.speed * float32(elapsed.Seconds())
	if r.loop {
		d = float32(math.Mod(float64(d), float64(total)))
	} else if d >= total {
		return r.points[len(r.points)-1], true
	}
	for i := 1; i < len(r.cum); i++ {
		if d <= r.cum[i] {
			seg := r.cum[i] - r.cum[i-1]
			if seg == 0 {
				return r.points[i], true
			}
			return r.points[i-1].Lerp(r.points[i], (d-r.cum[i-1])/seg), true
		}
	}
	return r.points[len(r.points)-1], true
}

func vec(a [3]float32) geom.Vec3 { return geom.V(a[0], a[1], a[2]) }
