package metric

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediaflow/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	metricFamilies, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, mf := range metricFamilies {
		found[mf.GetName()] = true
	}
	return found
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	err := registry.RegisterCounter("test-component", "test_counter", counter)
	require.NoError(t, err)
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_RegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "A test gauge"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_histogram",
		Help:    "A test histogram",
		Buckets: prometheus.DefBuckets,
	})

	require.NoError(t, registry.RegisterGauge("test-component", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("test-component", "test_histogram", histogram))
	gauge.Set(42)
	histogram.Observe(1.5)

	found := gatheredNames(t, registry)
	assert.True(t, found["test_gauge"])
	assert.True(t, found["test_histogram"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})
	counter2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})

	require.NoError(t, registry.RegisterCounter("owner1", "duplicate_counter", counter1))

	err := registry.RegisterCounter("owner2", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
	assert.True(t, errors.IsInvalid(err))

	err = registry.RegisterCounter("owner1", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric registration")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "unregister_counter", Help: "gone"})
	require.NoError(t, registry.RegisterCounter("test-component", "unregister_counter", counter))
	assert.True(t, gatheredNames(t, registry)["unregister_counter"])

	assert.True(t, registry.Unregister("test-component", "unregister_counter"))
	assert.False(t, gatheredNames(t, registry)["unregister_counter"])
	assert.False(t, registry.Unregister("test-component", "unregister_counter"))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	numGoroutines := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			counter := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "concurrent"})
			assert.NoError(t, registry.RegisterCounter("concurrent", name, counter))
		}(i)
	}
	wg.Wait()

	count := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, numGoroutines, count)
}

func TestMetricsRegistry_CoreMetricsInitialization(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	// Vectors only appear in Gather once a label set has been touched
	core.RecordState("decoder", 4)
	core.RecordTransition("decoder", "loaded", "idle")
	core.RecordRejectedTransition("decoder", "in_flight")
	core.RecordNegotiation("decoder", 0, "timeout")
	core.RecordBufferTransfer("a.out->b.in", 1)
	core.RecordProviderFault("broken")
	core.RecordControlSync("push", nil)
	core.RecordStreamBytes("mem", "write", 10)
	core.RecordStreamCallback("mem", "eos")
	core.RecordStreamOpen("mem", 1)

	found := gatheredNames(t, registry)
	for _, name := range []string{
		"mediaflow_component_state",
		"mediaflow_component_transitions_total",
		"mediaflow_component_transitions_rejected_total",
		"mediaflow_port_negotiation_duration_seconds",
		"mediaflow_port_negotiation_failures_total",
		"mediaflow_port_buffers_in_flight",
		"mediaflow_port_buffers_transferred_total",
		"mediaflow_registry_provider_faults_total",
		"mediaflow_control_syncs_total",
		"mediaflow_stream_bytes_total",
		"mediaflow_stream_callbacks_total",
		"mediaflow_stream_open",
		"go_goroutines",
	} {
		assert.True(t, found[name], "missing %s", name)
	}
}

func TestMetricsRegistry_GatheredTypes(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()
	core.RecordState("decoder", 5)
	core.RecordTransition("decoder", "idle", "executing")
	core.RecordNegotiation("decoder", 0, "")

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	state := byName["mediaflow_component_state"]
	require.NotNil(t, state)
	assert.Equal(t, dto.MetricType_GAUGE, state.GetType())
	require.Len(t, state.GetMetric(), 1)
	assert.Equal(t, 5.0, state.GetMetric()[0].GetGauge().GetValue())

	transitions := byName["mediaflow_component_transitions_total"]
	require.NotNil(t, transitions)
	assert.Equal(t, dto.MetricType_COUNTER, transitions.GetType())
	labels := make(map[string]string)
	for _, lp := range transitions.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, map[string]string{"component": "decoder", "from": "idle", "to": "executing"}, labels)

	negotiation := byName["mediaflow_port_negotiation_duration_seconds"]
	require.NotNil(t, negotiation)
	assert.Equal(t, dto.MetricType_HISTOGRAM, negotiation.GetType())
	assert.Equal(t, uint64(1), negotiation.GetMetric()[0].GetHistogram().GetSampleCount())
}
