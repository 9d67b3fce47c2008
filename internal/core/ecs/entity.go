package ecs

// ID packs a 32-bit slot index (low bits) and a 32-bit generation (high bits).
// Generations start at 1 so the zero ID never refers to a live entity.
type ID uint64

func NewID(index, generation uint32) ID {
	return ID(uint64(generation)<<32 | uint64(index))
}

func (id ID) Index() uint32      { return uint32(id) }
func (id ID) Generation() uint32 { return uint32(id >> 32) }
func (id ID) IsZero() bool       { return id == 0 }

// Pool allocates IDs, recycling destroyed slots with a bumped generation so
// stale IDs stop resolving.
type Pool struct {
	generations []uint32
	free        []uint32
	alive       int
}

func NewPool(capacity int) *Pool {
	return &Pool{
		generations: make([]uint32, 0, capacity),
		free:        make([]uint32, 0, capacity/4),
	}
}

func (p *Pool) Create() ID {
	p.alive++
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		return NewID(idx, p.generations[idx])
	}
	idx := uint32(len(p.generations))
	p.generations = append(p.generations, 1)
	return NewID(idx, 1)
}

func (p *Pool) Alive(id ID) bool {
	idx := id.Index()
	return int(idx) < len(p.generations) && p.generations[idx] == id.Generation()
}

// Destroy invalidates id. Destroying a stale or unknown ID is a no-op.
func (p *Pool) Destroy(id ID) bool {
	if !p.Alive(id) {
		return false
	}
	idx := id.Index()
	p.generations[idx]++
	if p.generations[idx] == 0 {
		p.generations[idx] = 1
	}
	p.free = append(p.free, idx)
	p.alive--
	return true
}

// Len returns the number of live IDs.
func (p *Pool) Len() int { return p.alive }
