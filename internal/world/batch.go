package world

import (
	"math/rand"
	"sort"
)

// Partition splits [0, n) into batchCount disjoint index sets. Indices are
// dealt round-robin in a random order, then each batch is sorted ascending so
// workers walk agents in memory order. batchCount is clamped to >= 1.
func Partition(n, batchCount int, rng *rand.Rand) [][]int {
	if batchCount < 1 {
		batchCount = 1
	}
	batches := make([][]int, batchCount)
	per := n/batchCount + 1
	for i := range batches {
		batches[i] = make([]int, 0, per)
	}

	order := rng.Perm(n)
	for i, idx := range order {
		b := i % batchCount
		batches[b] = append(batches[b], idx)
	}
	for _, b := range batches {
		sort.Ints(b)
	}
	return batches
}
