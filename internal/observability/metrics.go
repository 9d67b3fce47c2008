package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/swarmnav/swarm/internal/core/event"
	coresys "github.com/swarmnav/swarm/internal/core/system"
)

// SwarmCollector exposes the swarm pipelines as Prometheus metrics. It is fed
// from the simulation event bus.
type SwarmCollector struct {
	gatherer prometheus.Gatherer

	BatchesDispatched prometheus.Counter
	PathTicksDropped  prometheus.Counter
	PathQueries       *prometheus.CounterVec
	PathsEmpty        prometheus.Counter
	DistanceUpdates   prometheus.Counter
	DistanceDropped   prometheus.Counter
	Unreachable       prometheus.Gauge
	JobFailures       *prometheus.CounterVec
	RenderFrames      prometheus.Counter
	TickDuration      prometheus.Histogram
	PhaseDuration     *prometheus.GaugeVec
	Agents            prometheus.Gauge
}

// NewSwarmCollector registers swarm metrics against the provided registerer.
func NewSwarmCollector(reg prometheus.Registerer) (*SwarmCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SwarmCollector{gatherer: gatherer}
	var err error

	if c.BatchesDispatched, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_path_batches_dispatched_total",
		Help: "Path batches handed to their worker.",
	}), "swarm_path_batches_dispatched_total"); err != nil {
		return nil, err
	}
	if c.PathTicksDropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_path_ticks_dropped_total",
		Help: "Path refresh ticks skipped because the batch was still in flight.",
	}), "swarm_path_ticks_dropped_total"); err != nil {
		return nil, err
	}
	if c.PathQueries, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_path_queries_total",
		Help: "Per-agent path refreshes by kind: reused cached path or fresh query.",
	}, []string{"kind"}), "swarm_path_queries_total"); err != nil {
		return nil, err
	}
	if c.PathsEmpty, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_path_empty_total",
		Help: "Path queries that returned no path.",
	}), "swarm_path_empty_total"); err != nil {
		return nil, err
	}
	if c.DistanceUpdates, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_distance_updates_total",
		Help: "Applied distance refresh cycles.",
	}), "swarm_distance_updates_total"); err != nil {
		return nil, err
	}
	if c.DistanceDropped, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_distance_ticks_dropped_total",
		Help: "Distance refresh ticks skipped because the previous job was still running.",
	}), "swarm_distance_ticks_dropped_total"); err != nil {
		return nil, err
	}
	if c.Unreachable, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_agents_unreachable",
		Help: "Agents whose cached path no longer reaches the target, as of the last distance cycle.",
	}), "swarm_agents_unreachable"); err != nil {
		return nil, err
	}
	if c.JobFailures, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_worker_job_failures_total",
		Help: "Worker jobs that failed or panicked, by worker.",
	}, []string{"worker"}), "swarm_worker_job_failures_total"); err != nil {
		return nil, err
	}
	if c.RenderFrames, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_render_frames_total",
		Help: "Completed render buffer rotations.",
	}), "swarm_render_frames_total"); err != nil {
		return nil, err
	}
	if c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_tick_duration_seconds",
		Help:    "Wall time of one simulation tick.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.025, 0.05, 0.1},
	}), "swarm_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.PhaseDuration, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swarm_phase_duration_seconds",
		Help: "Wall time of each tick phase during the last timed tick.",
	}, []string{"phase"}), "swarm_phase_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Agents, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_agents",
		Help: "Agents in the simulation.",
	}), "swarm_agents"); err != nil {
		return nil, err
	}
	return c, nil
}

// Subscribe feeds the collector from bus events.
func (c *SwarmCollector) Subscribe(bus *event.Bus) {
	event.Subscribe(bus, func(event.BatchDispatched) { c.BatchesDispatched.Inc() })
	event.Subscribe(bus, func(event.BatchTickDropped) { c.PathTicksDropped.Inc() })
	event.Subscribe(bus, func(e event.PathsApplied) {
		c.PathQueries.WithLabelValues("reused").Add(float64(e.Reused))
		c.PathQueries.WithLabelValues("queried").Add(float64(e.Queried))
		c.PathsEmpty.Add(float64(e.Empty))
	})
	event.Subscribe(bus, func(e event.DistancesApplied) {
		c.DistanceUpdates.Inc()
		c.Unreachable.Set(float64(e.Unreachable))
	})
	event.Subscribe(bus, func(event.DistanceTickDropped) { c.DistanceDropped.Inc() })
	event.Subscribe(bus, func(e event.JobFailed) { c.JobFailures.WithLabelValues(e.Worker).Inc() })
	event.Subscribe(bus, func(event.FrameRotated) { c.RenderFrames.Inc() })
	event.Subscribe(bus, func(e event.TickCompleted) {
		c.TickDuration.Observe(e.Duration)
		c.Agents.Set(float64(e.Agents))
	})
	event.Subscribe(bus, func(e event.PhasesTimed) {
		for p, secs := range e.Seconds {
			c.PhaseDuration.WithLabelValues(coresys.Phase(p).String()).Set(secs)
		}
	})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SwarmCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *SwarmCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// register adds col to reg, reusing an already registered collector of the
// same type and metric kind.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok && metricKind(existing) == metricKind(col) {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}

// metricKind reports the kind a single-metric collector writes. Interface
// assertions cannot tell them apart: every Gauge is also a Counter. Vecs have
// distinct concrete types and report "".
func metricKind(c prometheus.Collector) string {
	m, ok := c.(prometheus.Metric)
	if !ok {
		return ""
	}
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return ""
	}
	switch {
	case pb.Counter != nil:
		return "counter"
	case pb.Gauge != nil:
		return "gauge"
	case pb.Histogram != nil:
		return "histogram"
	case pb.Summary != nil:
		return "summary"
	}
	return "untyped"
}
