// Package metric provides Prometheus-based metrics collection and an HTTP server
// for MediaFlow pipelines.
//
// The registry owns a private Prometheus registry preloaded with the framework
// metrics (Metrics type) plus the Go and process collectors. Components and
// providers can register their own collectors through MetricsRegistrar.
//
// # Core Metrics
//
// All core metrics use the namespace "mediaflow":
//
//   - mediaflow_component_state{component}
//   - mediaflow_component_transitions_total{component,from,to}
//   - mediaflow_component_transitions_rejected_total{component,reason}
//   - mediaflow_port_negotiation_duration_seconds{component}
//   - mediaflow_port_negotiation_failures_total{component,reason}
//   - mediaflow_port_buffers_in_flight{connection}
//   - mediaflow_port_buffers_transferred_total{connection}
//   - mediaflow_registry_provider_faults_total{provider}
//   - mediaflow_control_syncs_total{direction,status}
//   - mediaflow_stream_bytes_total{scheme,direction}
//   - mediaflow_stream_callbacks_total{scheme,event}
//   - mediaflow_stream_open{scheme}
//
// Every Record method is safe on a nil *Metrics, so code paths built without a
// registry (most unit tests) need no guards:
//
//	var m *metric.Metrics         // nil
//	m.RecordTransition("a", "loaded", "idle") // no-op
//
// # HTTP Server
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry, nil)
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
// The server exposes OpenMetrics on the configured path and /health, which is
// backed by the optional HealthFunc.
package metric
