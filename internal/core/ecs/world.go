package ecs

// World owns the ID pool, the stores registered against it, and a queue of
// IDs to destroy at the next Flush.
type World struct {
	pool         *Pool
	stores       []Removable
	destroyQueue []ID
}

func NewWorld(capacity int) *World {
	return &World{
		pool:         NewPool(capacity),
		destroyQueue: make([]ID, 0, 16),
	}
}

// Register attaches a store so destroyed IDs are removed from it.
func (w *World) Register(s Removable) {
	w.stores = append(w.stores, s)
}

func (w *World) Create() ID       { return w.pool.Create() }
func (w *World) Alive(id ID) bool { return w.pool.Alive(id) }
func (w *World) Len() int         { return w.pool.Len() }

// MarkForDestruction queues id for the next Flush.
func (w *World) MarkForDestruction(id ID) {
	w.destroyQueue = append(w.destroyQueue, id)
}

// Flush destroys queued IDs and drops their components. Returns how many
// live IDs were destroyed.
func (w *World) Flush() int {
	n := 0
	for _, id := range w.destroyQueue {
		if !w.pool.Alive(id) {
			continue
		}
		for _, s := range w.stores {
			s.Remove(id)
		}
		w.pool.Destroy(id)
		n++
	}
	w.destroyQueue = w.destroyQueue[:0]
	return n
}
