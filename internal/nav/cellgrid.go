package nav

import (
	"math"

	"github.com/swarmnav/swarm/internal/geom"
)

type cellKey struct {
	cx int32
	cz int32
}

// CellGrid buckets IDs by XZ cell for neighbour lookups. Not safe for
// concurrent use; the avoidance step owns its grid.
type CellGrid struct {
	size  float32
	cells map[cellKey][]Handle
}

func NewCellGrid(cellSize float32) *CellGrid {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &CellGrid{
		size:  cellSize,
		cells: make(map[cellKey][]Handle),
	}
}

func (g *CellGrid) coord(v float32) int32 {
	return int32(math.Floor(float64(v / g.size)))
}

func (g *CellGrid) key(p geom.Vec3) cellKey {
	return cellKey{cx: g.coord(p.X), cz: g.coord(p.Z)}
}

// Reset empties every cell, keeping allocated buckets for reuse.
func (g *CellGrid) Reset() {
	for k, ids := range g.cells {
		g.cells[k] = ids[:0]
	}
}

func (g *CellGrid) Add(id Handle, p geom.Vec3) {
	k := g.key(p)
	g.cells[k] = append(g.cells[k], id)
}

func (g *CellGrid) Remove(id Handle, p geom.Vec3) {
	k := g.key(p)
	ids := g.cells[k]
	for i, other := range ids {
		if other == id {
			ids[i] = ids[len(ids)-1]
			g.cells[k] = ids[:len(ids)-1]
			return
		}
	}
}

// Move rebuckets id when it crosses a cell boundary.
func (g *CellGrid) Move(id Handle, from, to geom.Vec3) {
	if g.key(from) == g.key(to) {
		return
	}
	g.Remove(id, from)
	g.Add(id, to)
}

// Nearby appends to dst every ID in the cells overlapping a square of the
// given radius around p. Callers filter by exact distance.
func (g *CellGrid) Nearby(dst []Handle, p geom.Vec3, radius float32) []Handle {
	minX, maxX := g.coord(p.X-radius), g.coord(p.X+radius)
	minZ, maxZ := g.coord(p.Z-radius), g.coord(p.Z+radius)
	for cx := minX; cx <= maxX; cx++ {
		for cz := minZ; cz <= maxZ; cz++ {
			dst = append(dst, g.cells[cellKey{cx: cx, cz: cz}]...)
		}
	}
	return dst
}
