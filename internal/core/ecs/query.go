package ecs

// Each2 visits entities present in both stores, walking the smaller one.
func Each2[A, B any](sa *Store[A], sb *Store[B], fn func(ID, *A, *B)) {
	if sa.Len() <= sb.Len() {
		for id, a := range sa.data {
			if b, ok := sb.data[id]; ok {
				fn(id, a, b)
			}
		}
		return
	}
	for id, b := range sb.data {
		if a, ok := sa.data[id]; ok {
			fn(id, a, b)
		}
	}
}
