package system

import "time"

// interval fires on its first check and then once per period. Missed
// periods are not replayed: at most one fire per Due call.
type interval struct {
	period  time.Duration
	elapsed time.Duration
	primed  bool
}

func newInterval(period time.Duration) interval {
	return interval{period: period}
}

func (t *interval) Due(dt time.Duration) bool {
	if !t.primed {
		t.primed = true
		return true
	}
	t.elapsed += dt
	if t.elapsed < t.period {
		return false
	}
	t.elapsed -= t.period
	if t.elapsed >= t.period {
		t.elapsed = 0
	}
	return true
}
