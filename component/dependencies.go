package component

import (
	"log/slog"
	"time"

	"github.com/c360/mediaflow/metric"
)

// DefaultNegotiationTimeout bounds the wait for a peer to reach LOADED.
const DefaultNegotiationTimeout = 5 * time.Second

// Dependencies provides the external services a component needs. Every field is
// optional.
type Dependencies struct {
	MetricsRegistry    *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger             *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
	NegotiationTimeout time.Duration           // Peer wait during negotiation (0 = DefaultNegotiationTimeout)
	ControlTimeout     time.Duration           // Synchronizer call bound for the control tree (0 = control default)
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

// Metrics returns the framework metrics, or nil when no registry is configured.
func (d *Dependencies) Metrics() *metric.Metrics {
	return d.MetricsRegistry.CoreMetrics()
}

func (d *Dependencies) negotiationTimeout() time.Duration {
	if d.NegotiationTimeout > 0 {
		return d.NegotiationTimeout
	}
	return DefaultNegotiationTimeout
}
