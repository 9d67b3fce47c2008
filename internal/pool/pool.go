package pool

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/swarmnav/swarm/internal/geom"
)

// Slices up to 1<<maxBucket elements are pooled; larger requests are
// allocated and dropped on return.
const maxBucket = 24

// Pool hands out reusable slices of T, bucketed by power-of-two capacity.
// Rent and Return are safe from any goroutine. A rented slice belongs to the
// caller until it is returned; returning it twice is a bug.
type Pool[T any] struct {
	buckets     [maxBucket + 1]sync.Pool
	outstanding atomic.Int64
}

func bucketFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// Rent returns a slice of length n. Its contents are unspecified; callers
// overwrite every element they read.
func (p *Pool[T]) Rent(n int) []T {
	p.outstanding.Add(1)
	b := bucketFor(n)
	if b > maxBucket {
		return make([]T, n)
	}
	if v := p.buckets[b].Get(); v != nil {
		s := *(v.(*[]T))
		return s[:n]
	}
	return make([]T, n, 1<<b)
}

// Return gives s back to the pool. Elements are zeroed so pooled slices
// never keep other allocations alive.
func (p *Pool[T]) Return(s []T) {
	if s == nil {
		return
	}
	p.outstanding.Add(-1)
	c := cap(s)
	b := bucketFor(c)
	if b > maxBucket || c != 1<<b {
		return
	}
	s = s[:c]
	clear(s)
	p.buckets[b].Put(&s)
}

// Outstanding reports rented slices not yet returned.
func (p *Pool[T]) Outstanding() int64 {
	return p.outstanding.Load()
}

// Pools groups the element types the pipelines snapshot into.
type Pools struct {
	Vecs   Pool[geom.Vec3]
	Paths  Pool[[]geom.Vec3]
	Floats Pool[float32]
	Bools  Pool[bool]
	Ints   Pool[int]
	Xforms Pool[geom.Transform]
}

func New() *Pools { return &Pools{} }

// Outstanding sums the outstanding counts of every typed pool.
func (p *Pools) Outstanding() int64 {
	return p.Vecs.Outstanding() +
		p.Paths.Outstanding() +
		p.Floats.Outstanding() +
		p.Bools.Outstanding() +
		p.Ints.Outstanding() +
		p.Xforms.Outstanding()
}
