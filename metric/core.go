package metric

import (
	stderrors "errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediaflow/errors"
)

// Metrics contains the framework-level metrics shared by components, ports,
// controls and content streams. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Component lifecycle
	ComponentState      *prometheus.GaugeVec
	StateTransitions    *prometheus.CounterVec
	TransitionsRejected *prometheus.CounterVec
	NegotiationDuration *prometheus.HistogramVec
	NegotiationFailures *prometheus.CounterVec
	BuffersInFlight     *prometheus.GaugeVec
	BuffersTransferred  *prometheus.CounterVec
	ProviderFaults      *prometheus.CounterVec

	// Controls
	ControlSyncs *prometheus.CounterVec

	// Content streams
	StreamBytes     *prometheus.CounterVec
	StreamCallbacks *prometheus.CounterVec
	StreamsOpen     *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all framework metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mediaflow",
				Subsystem: "component",
				Name:      "state",
				Help:      "Component state (0=invalid, 1=unloaded, 2=loaded, 3=wait_for_resources, 4=idle, 5=executing, 6=paused)",
			},
			[]string{"component"},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaflow",
				Subsystem: "component",
				Name:      "transitions_total",
				Help:      "Total number of completed state transitions",
			},
			[]string{"component", "from", "to"},
		),

		TransitionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaflow",
				Subsystem: "component",
				Name:      "transitions_rejected_total",
				Help:      "Total number of rejected state transition requests",
			},
			[]string{"component", "reason"},
		),

		NegotiationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mediaflow",
				Subsystem: "port",
				Name:      "negotiation_duration_seconds",
				Help:      "Time spent negotiating buffers for a component",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"component"},
		),

		NegotiationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaflow",
				Subsystem: "port",
				Name:      "negotiation_failures_total",
				Help:      "Total number of failed buffer negotiations",
			},
			[]string{"component", "reason"},
		),

		BuffersInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mediaflow",
				Subsystem: "port",
				Name:      "buffers_in_flight",
				Help:      "Buffers currently owned by the consumer side of a connection",
			},
			[]string{"connection"},
		),

		BuffersTransferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaflow",
				Subsystem: "port",
				Name:      "buffers_transferred_total",
				Help:      "Total number of buffers handed from producer to consumer",
			},
			[]string{"connection"},
		),

		ProviderFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaflow",
				Subsystem: "registry",
				Name:      "provider_faults_total",
				Help:      "Provider failures suppressed during lookup fan-out",
			},
			[]string{"provider"},
		),

		ControlSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaflow",
				Subsystem: "control",
				Name:      "syncs_total",
				Help:      "Total number of control push/pull operations",
			},
			[]string{"direction", "status"},
		),

		StreamBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaflow",
				Subsystem: "stream",
				Name:      "bytes_total",
				Help:      "Total bytes moved through content streams",
			},
			[]string{"scheme", "direction"},
		),

		StreamCallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mediaflow",
				Subsystem: "stream",
				Name:      "callbacks_total",
				Help:      "Total number of content stream callbacks delivered",
			},
			[]string{"scheme", "event"},
		),

		StreamsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mediaflow",
				Subsystem: "stream",
				Name:      "open",
				Help:      "Currently open content streams",
			},
			[]string{"scheme"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ComponentState,
		c.StateTransitions,
		c.TransitionsRejected,
		c.NegotiationDuration,
		c.NegotiationFailures,
		c.BuffersInFlight,
		c.BuffersTransferred,
		c.ProviderFaults,
		c.ControlSyncs,
		c.StreamBytes,
		c.StreamCallbacks,
		c.StreamsOpen,
	}
}

// RecordState updates the state gauge of a component
func (c *Metrics) RecordState(component string, state int) {
	if c == nil {
		return
	}
	c.ComponentState.WithLabelValues(component).Set(float64(state))
}

// RecordTransition counts a completed transition
func (c *Metrics) RecordTransition(component, from, to string) {
	if c == nil {
		return
	}
	c.StateTransitions.WithLabelValues(component, from, to).Inc()
}

// RecordRejectedTransition counts a refused transition request
func (c *Metrics) RecordRejectedTransition(component, reason string) {
	if c == nil {
		return
	}
	c.TransitionsRejected.WithLabelValues(component, reason).Inc()
}

// RecordNegotiation records negotiation time and, on failure, the reason
func (c *Metrics) RecordNegotiation(component string, duration time.Duration, failure string) {
	if c == nil {
		return
	}
	c.NegotiationDuration.WithLabelValues(component).Observe(duration.Seconds())
	if failure != "" {
		c.NegotiationFailures.WithLabelValues(component, failure).Inc()
	}
}

// RecordBufferTransfer counts a producer to consumer handoff
func (c *Metrics) RecordBufferTransfer(connection string, inFlight int) {
	if c == nil {
		return
	}
	c.BuffersTransferred.WithLabelValues(connection).Inc()
	c.BuffersInFlight.WithLabelValues(connection).Set(float64(inFlight))
}

// RecordBuffersInFlight updates the in-flight gauge after a release
func (c *Metrics) RecordBuffersInFlight(connection string, inFlight int) {
	if c == nil {
		return
	}
	c.BuffersInFlight.WithLabelValues(connection).Set(float64(inFlight))
}

// RecordProviderFault counts a suppressed provider failure
func (c *Metrics) RecordProviderFault(provider string) {
	if c == nil {
		return
	}
	c.ProviderFaults.WithLabelValues(provider).Inc()
}

// RecordControlSync counts a push or pull by outcome: success, timeout or error
func (c *Metrics) RecordControlSync(direction string, err error) {
	if c == nil {
		return
	}
	status := "success"
	switch {
	case stderrors.Is(err, errors.ErrTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	c.ControlSyncs.WithLabelValues(direction, status).Inc()
}

// RecordStreamBytes counts bytes read or written on a stream
func (c *Metrics) RecordStreamBytes(scheme, direction string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.StreamBytes.WithLabelValues(scheme, direction).Add(float64(n))
}

// RecordStreamCallback counts a delivered callback
func (c *Metrics) RecordStreamCallback(scheme, event string) {
	if c == nil {
		return
	}
	c.StreamCallbacks.WithLabelValues(scheme, event).Inc()
}

// RecordStreamOpen adjusts the open stream gauge by delta
func (c *Metrics) RecordStreamOpen(scheme string, delta int) {
	if c == nil {
		return
	}
	c.StreamsOpen.WithLabelValues(scheme).Add(float64(delta))
}
