package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/mediaflow/metric"
)

type bufferMetrics struct {
	writes prometheus.Counter
	reads  prometheus.Counter
	depth  prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"queue": prefix}
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mediaflow",
			Subsystem:   "queue",
			Name:        "writes_total",
			ConstLabels: labels,
			Help:        "Total number of items queued",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mediaflow",
			Subsystem:   "queue",
			Name:        "reads_total",
			ConstLabels: labels,
			Help:        "Total number of items dequeued",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mediaflow",
			Subsystem:   "queue",
			Name:        "depth",
			ConstLabels: labels,
			Help:        "Current number of queued items",
		}),
	}

	registrations := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"queue_writes", m.writes},
		{"queue_reads", m.reads},
		{"queue_depth", m.depth},
	}
	for i, r := range registrations {
		var err error
		switch c := r.collector.(type) {
		case prometheus.Gauge:
			err = registry.RegisterGauge(prefix, r.name, c)
		case prometheus.Counter:
			err = registry.RegisterCounter(prefix, r.name, c)
		}
		if err != nil {
			for _, done := range registrations[:i] {
				registry.Unregister(prefix, done.name)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *bufferMetrics) unregister(registry *metric.MetricsRegistry, prefix string) {
	for _, name := range []string{"queue_writes", "queue_reads", "queue_depth"} {
		registry.Unregister(prefix, name)
	}
}
