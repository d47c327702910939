package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediaflow/metric"
)

// engineMetrics holds Prometheus metrics for pipeline operations.
type engineMetrics struct {
	// Pipeline lifecycle operations
	builds *prometheus.CounterVec // By status (success/failure)
	starts *prometheus.CounterVec // By status
	stops  *prometheus.CounterVec // By status

	// Operation latency
	buildDuration prometheus.Histogram
	startDuration prometheus.Histogram
	stopDuration  prometheus.Histogram

	// Components that became invalid while running
	failures *prometheus.CounterVec // By node

	// State metrics
	activeNodes prometheus.Gauge // Nodes currently built

	registry *metric.MetricsRegistry
}

// engineMetricNames lists every name registered under the "engine" owner.
var engineMetricNames = []string{
	"builds", "starts", "stops",
	"build_duration", "start_duration", "stop_duration",
	"node_failures", "active_nodes",
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediaflow",
			Subsystem: "engine",
			Name:      "builds_total",
			Help:      "Total number of pipeline build operations",
		}, []string{"status"}), // status: success, failure

		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediaflow",
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Total number of pipeline start operations",
		}, []string{"status"}),

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediaflow",
			Subsystem: "engine",
			Name:      "stops_total",
			Help:      "Total number of pipeline stop operations",
		}, []string{"status"}),

		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mediaflow",
			Subsystem: "engine",
			Name:      "build_duration_seconds",
			Help:      "Pipeline build duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		startDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mediaflow",
			Subsystem: "engine",
			Name:      "start_duration_seconds",
			Help:      "Pipeline start duration in seconds, negotiation included",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		}),

		stopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mediaflow",
			Subsystem: "engine",
			Name:      "stop_duration_seconds",
			Help:      "Pipeline stop duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0},
		}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediaflow",
			Subsystem: "engine",
			Name:      "node_failures_total",
			Help:      "Total number of nodes invalidated while the pipeline was running",
		}, []string{"node"}),

		activeNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediaflow",
			Subsystem: "engine",
			Name:      "active_nodes",
			Help:      "Current number of built pipeline nodes",
		}),
	}

	if err := registry.RegisterCounterVec("engine", "builds", m.builds); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "starts", m.starts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "stops", m.stops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "build_duration", m.buildDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "start_duration", m.startDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "stop_duration", m.stopDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "node_failures", m.failures); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "active_nodes", m.activeNodes); err != nil {
		return nil, err
	}

	m.registry = registry
	return m, nil
}

// unregister removes the engine metrics so a replacement engine can
// register its own on the same registry.
func (m *engineMetrics) unregister() {
	if m == nil {
		return
	}
	for _, name := range engineMetricNames {
		m.registry.Unregister("engine", name)
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// recordBuild records a pipeline build and the resulting node count.
func (m *engineMetrics) recordBuild(success bool, duration float64, nodes int) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(status(success)).Inc()
	m.buildDuration.Observe(duration)
	m.activeNodes.Set(float64(nodes))
}

// recordStart records a pipeline start operation.
func (m *engineMetrics) recordStart(success bool, duration float64) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(status(success)).Inc()
	m.startDuration.Observe(duration)
}

// recordStop records a pipeline stop operation.
func (m *engineMetrics) recordStop(success bool, duration float64) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(status(success)).Inc()
	m.stopDuration.Observe(duration)
}

// setActiveNodes sets the built node count directly.
func (m *engineMetrics) setActiveNodes(n int) {
	if m != nil {
		m.activeNodes.Set(float64(n))
	}
}

// recordFailure records a node invalidated while running.
func (m *engineMetrics) recordFailure(node string) {
	if m != nil {
		m.failures.WithLabelValues(node).Inc()
	}
}
