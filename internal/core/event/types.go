package event

import coresys "github.com/swarmnav/swarm/internal/core/system"

// Swarm pipeline events. All are emitted on the simulation goroutine.

// BatchDispatched: a path batch snapshot was handed to its worker.
type BatchDispatched struct {
	Batch  int
	Agents int
}

// BatchTickDropped: a path refresh tick found its batch still in flight.
type BatchTickDropped struct {
	Batch int
}

// PathsApplied summarizes one applied path batch.
type PathsApplied struct {
	Batch   int
	Applied int // agents whose path was replaced
	Reused  int
	Queried int
	Empty   int // queries returning no path
}

// DistancesApplied summarizes one applied distance cycle.
type DistancesApplied struct {
	Reachable   int
	Unreachable int
}

// DistanceTickDropped: a distance refresh tick found the previous job in flight.
type DistanceTickDropped struct{}

// JobFailed: a worker job failed and its cycle was discarded.
type JobFailed struct {
	Worker string
	Err    error
}

// FrameRotated: a render flatten job completed and buffer roles rotated.
type FrameRotated struct {
	Cycle uint64
}

// TickCompleted is emitted at the end of every simulation tick.
type TickCompleted struct {
	Tick     uint64
	Duration float64 // seconds
	Agents   int
}

// PhasesTimed carries the wall time of each phase of one tick, in seconds,
// indexed by phase.
type PhasesTimed struct {
	Seconds [coresys.PhaseCount]float64
}
