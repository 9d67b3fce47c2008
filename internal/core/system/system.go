package system

import "time"

// Phase orders systems within one simulation tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: deferred worker results, viewer packets
	PhasePreUpdate               // 1: last tick's events, target motion
	PhaseSchedule                // 2: path and distance dispatch
	PhasePhysics                 // 3: movement integration, avoidance step
	PhaseOutput                  // 4: render buffers, stream flush
	PhasePersist                 // 5: run samples
	PhaseCleanup                 // 6: end-of-tick bookkeeping

	PhaseCount = int(PhaseCleanup) + 1
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhasePreUpdate:
		return "pre-update"
	case PhaseSchedule:
		return "schedule"
	case PhasePhysics:
		return "physics"
	case PhaseOutput:
		return "output"
	case PhasePersist:
		return "persist"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is one step of the simulation tick.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
