package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmnav/swarm/internal/core/event"
	coresys "github.com/swarmnav/swarm/internal/core/system"
)

func TestCollectorFollowsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSwarmCollector(reg)
	require.NoError(t, err)

	bus := event.NewBus()
	c.Subscribe(bus)

	event.Emit(bus, event.BatchDispatched{Batch: 0, Agents: 10})
	event.Emit(bus, event.BatchDispatched{Batch: 1, Agents: 10})
	event.Emit(bus, event.BatchTickDropped{Batch: 1})
	event.Emit(bus, event.PathsApplied{Batch: 0, Applied: 8, Reused: 6, Queried: 4, Empty: 2})
	event.Emit(bus, event.DistancesApplied{Reachable: 7, Unreachable: 3})
	event.Emit(bus, event.DistanceTickDropped{})
	event.Emit(bus, event.JobFailed{Worker: "path-1", Err: errors.New("boom")})
	event.Emit(bus, event.FrameRotated{Cycle: 1})
	event.Emit(bus, event.TickCompleted{Tick: 1, Duration: 0.004, Agents: 20})
	var timed event.PhasesTimed
	timed.Seconds[coresys.PhaseSchedule] = 0.002
	event.Emit(bus, timed)

	// Nothing is counted until the bus dispatches.
	assert.Equal(t, float64(0), testutil.ToFloat64(c.BatchesDispatched))
	bus.SwapBuffers()
	bus.DispatchAll()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.BatchesDispatched))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.PathTicksDropped))
	assert.Equal(t, float64(6), testutil.ToFloat64(c.PathQueries.WithLabelValues("reused")))
	assert.Equal(t, float64(4), testutil.ToFloat64(c.PathQueries.WithLabelValues("queried")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.PathsEmpty))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.DistanceUpdates))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.DistanceDropped))
	assert.Equal(t, float64(3), testutil.ToFloat64(c.Unreachable))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.JobFailures.WithLabelValues("path-1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.RenderFrames))
	assert.Equal(t, float64(20), testutil.ToFloat64(c.Agents))
	assert.Equal(t, 1, testutil.CollectAndCount(c.TickDuration))
	assert.Equal(t, 0.002, testutil.ToFloat64(c.PhaseDuration.WithLabelValues("schedule")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.PhaseDuration.WithLabelValues("physics")))
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewSwarmCollector(reg)
	require.NoError(t, err)
	b, err := NewSwarmCollector(reg)
	require.NoError(t, err)

	a.RenderFrames.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(b.RenderFrames))
}

func TestCollectorRejectsIncompatibleRegistration(t *testing.T) {
	tests := []struct {
		name     string
		existing prometheus.Collector
	}{
		{"gauge where counter expected", prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_render_frames_total",
			Help: "Completed render buffer rotations.",
		})},
		{"counter where gauge expected", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarm_agents",
			Help: "Agents in the simulation.",
		})},
		{"summary where histogram expected", prometheus.NewSummary(prometheus.SummaryOpts{
			Name: "swarm_tick_duration_seconds",
			Help: "Wall time of one simulation tick.",
		})},
		{"gauge vec where counter vec expected", prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarm_path_queries_total",
			Help: "Per-agent path refreshes by kind: reused cached path or fresh query.",
		}, []string{"kind"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			reg.MustRegister(tt.existing)
			_, err := NewSwarmCollector(reg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "incompatible type")
		})
	}
}

func TestMetricKind(t *testing.T) {
	assert.Equal(t, "counter", metricKind(prometheus.NewCounter(prometheus.CounterOpts{Name: "c"})))
	assert.Equal(t, "gauge", metricKind(prometheus.NewGauge(prometheus.GaugeOpts{Name: "g"})))
	assert.Equal(t, "histogram", metricKind(prometheus.NewHistogram(prometheus.HistogramOpts{Name: "h"})))
	assert.Equal(t, "", metricKind(prometheus.NewCounterVec(prometheus.CounterOpts{Name: "v"}, []string{"l"})))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSwarmCollector(reg)
	require.NoError(t, err)
	c.Agents.Set(64)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, "swarm_agents 64"), body)
	assert.Contains(t, body, "swarm_path_batches_dispatched_total 0")
}
