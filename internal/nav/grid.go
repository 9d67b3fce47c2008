package nav

import (
	"container/heap"
	"math"
	"sync"

	"github.com/swarmnav/swarm/internal/geom"
)

// Grid is a walkability grid over the XZ plane. Cell (0,0) starts at Origin.
type Grid struct {
	Width    int
	Height   int
	CellSize float32
	Origin   geom.Vec3
	blocked  []bool
}

func NewGrid(width, height int, cellSize float32, origin geom.Vec3) *Grid {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &Grid{
		Width:    width,
		Height:   height,
		CellSize: cellSize,
		Origin:   origin,
		blocked:  make([]bool, width*height),
	}
}

func (g *Grid) inBounds(cx, cz int) bool {
	return cx >= 0 && cz >= 0 && cx < g.Width && cz < g.Height
}

func (g *Grid) index(cx, cz int) int { return cz*g.Width + cx }

// Blocked reports whether a cell is solid. Out-of-bounds cells are solid.
func (g *Grid) Blocked(cx, cz int) bool {
	return !g.inBounds(cx, cz) || g.blocked[g.index(cx, cz)]
}

// Cell returns the cell containing p.
func (g *Grid) Cell(p geom.Vec3) (cx, cz int) {
	cx = int(math.Floor(float64((p.X - g.Origin.X) / g.CellSize)))
	cz = int(math.Floor(float64((p.Z - g.Origin.Z) / g.CellSize)))
	return cx, cz
}

// Center returns the world position at the middle of a cell, at height y.
func (g *Grid) Center(cx, cz int, y float32) geom.Vec3 {
	return geom.Vec3{
		X: g.Origin.X + (float32(cx)+0.5)*g.CellSize,
		Y: y,
		Z: g.Origin.Z + (float32(cz)+0.5)*g.CellSize,
	}
}

// BlockRect marks every cell overlapping the world-space rectangle
// [minX,maxX] x [minZ,maxZ] as solid.
func (g *Grid) BlockRect(minX, minZ, maxX, maxZ float32) {
	x0, z0 := g.Cell(geom.Vec3{X: minX, Z: minZ})
	x1, z1 := g.Cell(geom.Vec3{X: maxX, Z: maxZ})
	for cz := max(z0, 0); cz <= min(z1, g.Height-1); cz++ {
		for cx := max(x0, 0); cx <= min(x1, g.Width-1); cx++ {
			g.blocked[g.index(cx, cz)] = true
		}
	}
}

// GridNavigator answers path queries with A* over baked grids. FindPath may
// be called concurrently; Bake swaps a map in atomically.
type GridNavigator struct {
	mu   sync.RWMutex
	maps map[MapID]*Grid
}

func NewGridNavigator() *GridNavigator {
	return &GridNavigator{maps: make(map[MapID]*Grid)}
}

// Bake publishes g as map id. The grid must not be modified afterwards.
func (n *GridNavigator) Bake(id MapID, g *Grid) {
	n.mu.Lock()
	n.maps[id] = g
	n.mu.Unlock()
}

func (n *GridNavigator) MapReady(id MapID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.maps[id]
	return ok
}

func (n *GridNavigator) grid(id MapID) *Grid {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maps[id]
}

// FindPath runs 8-connected A* without corner cutting. The result skips the
// start cell, keeps only turning points and ends at end itself. With
// allowPartial an unreachable end yields a path to the closest reachable cell.
func (n *GridNavigator) FindPath(id MapID, start, end geom.Vec3, allowPartial bool) []geom.Vec3 {
	g := n.grid(id)
	if g == nil {
		return nil
	}
	sx, sz := g.Cell(start)
	if !g.inBounds(sx, sz) {
		return nil
	}
	ex, ez := g.Cell(end)
	goalOpen := !g.Blocked(ex, ez)
	if !goalOpen && !allowPartial {
		return nil
	}
	if sx == ex && sz == ez {
		return []geom.Vec3{end}
	}

	s := getSearch(g.Width * g.Height)
	defer putSearch(s)

	startIdx := g.index(sx, sz)
	s.g[startIdx] = 0
	s.from[startIdx] = -1
	s.push(startIdx, octile(sx, sz, ex, ez))

	best, bestH := startIdx, octile(sx, sz, ex, ez)
	reached := false
	for s.open.Len() > 0 {
		cur := heap.Pop(&s.open).(node).idx
		if s.closed[cur] {
			continue
		}
		s.closed[cur] = true
		cx, cz := cur%g.Width, cur/g.Width
		if cx == ex && cz == ez {
			best, reached = cur, true
			break
		}
		if h := octile(cx, cz, ex, ez); h < bestH {
			best, bestH = cur, h
		}
		for _, d := range neighbours {
			nx, nz := cx+d.dx, cz+d.dz
			if g.Blocked(nx, nz) {
				continue
			}
			if d.dx != 0 && d.dz != 0 && (g.Blocked(cx+d.dx, cz) || g.Blocked(cx, cz+d.dz)) {
				continue
			}
			ni := g.index(nx, nz)
			if s.closed[ni] {
				continue
			}
			cost := s.g[cur] + d.cost
			if cost < s.g[ni] {
				s.g[ni] = cost
				s.from[ni] = cur
				s.push(ni, cost+octile(nx, nz, ex, ez))
			}
		}
	}
	if !reached && (!allowPartial || best == startIdx) {
		return nil
	}

	cells := s.trace(best)
	path := compress(g, cells, start.Y)
	if reached {
		path[len(path)-1] = end
	}
	return path
}

// compress turns a start-to-goal cell chain into waypoints, dropping the
// start cell and every cell that continues a straight run.
func compress(g *Grid, cells []int, y float32) []geom.Vec3 {
	out := make([]geom.Vec3, 0, 8)
	for i := 1; i < len(cells); i++ {
		if i+1 < len(cells) {
			ax, az := cells[i]%g.Width-cells[i-1]%g.Width, cells[i]/g.Width-cells[i-1]/g.Width
			bx, bz := cells[i+1]%g.Width-cells[i]%g.Width, cells[i+1]/g.Width-cells[i]/g.Width
			if ax == bx && az == bz {
				continue
			}
		}
		out = append(out, g.Center(cells[i]%g.Width, cells[i]/g.Width, y))
	}
	return out
}

const diagonalCost = float32(math.Sqrt2)

var neighbours = [8]struct {
	dx, dz int
	cost   float32
}{
	{1, 0, 1}, {-1, 0, 1}, {0, 1, 1}, {0, -1, 1},
	{1, 1, diagonalCost}, {1, -1, diagonalCost}, {-1, 1, diagonalCost}, {-1, -1, diagonalCost},
}

func octile(ax, az, bx, bz int) float32 {
	dx := float32(abs(ax - bx))
	dz := float32(abs(az - bz))
	if dx < dz {
		dx, dz = dz, dx
	}
	return dx + (diagonalCost-1)*dz
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type node struct {
	idx int
	f   float32
}

type nodeHeap []node

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].f < h[j].f }
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)        { *h = append(*h, x.(node)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// search is per-query scratch, recycled through searchPool.
type search struct {
	g      []float32
	from   []int
	closed []bool
	open   nodeHeap
}

var searchPool = sync.Pool{
	New: func() any { return &search{} },
}

func getSearch(cells int) *search {
	s := searchPool.Get().(*search)
	if cap(s.g) < cells {
		s.g = make([]float32, cells)
		s.from = make([]int, cells)
		s.closed = make([]bool, cells)
	}
	s.g = s.g[:cells]
	s.from = s.from[:cells]
	s.closed = s.closed[:cells]
	inf := float32(math.Inf(1))
	for i := range s.g {
		s.g[i] = inf
		s.from[i] = -1
		s.closed[i] = false
	}
	s.open = s.open[:0]
	return s
}

func putSearch(s *search) { searchPool.Put(s) }

func (s *search) push(idx int, f float32) {
	heap.Push(&s.open, node{idx: idx, f: f})
}

func (s *search) trace(goal int) []int {
	var rev []int
	for i := goal; i != -1; i = s.from[i] {
		rev = append(rev, i)
	}
	for l, r := 0, len(rev)-1; l < r; l, r = l+1, r-1 {
		rev[l], rev[r] = rev[r], rev[l]
	}
	return rev
}
