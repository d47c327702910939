package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/config"
	"github.com/c360/mediaflow/control"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/metric"
	mftestutil "github.com/c360/mediaflow/testutil"
)

// pipelineConfig returns pattern -> passthrough -> writer over a temporary
// file root.
func pipelineConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	root := t.TempDir()
	cfg := mftestutil.NewPipelineBuilder(root).
		Node("pattern", map[string]any{"frames": 3, "frame_size": 16}).
		Node("passthrough", nil).
		Named("sink", "writer", map[string]any{"uri": "file:out.raw"}).
		Connect("pattern.0", "passthrough.0").
		Connect("passthrough.1", "sink.0").
		Timeouts(2*time.Second, 5*time.Second).
		Build()
	return cfg, root
}

func newEngine(t *testing.T, cfg *config.Config, opts Options) *Engine {
	t.Helper()
	eng, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

func TestNewRejectsConfig(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	cfg, _ := pipelineConfig(t)
	cfg.Pipeline.Connections = append(cfg.Pipeline.Connections, config.ConnectionConfig{From: "pattern.0", To: "ghost.0"})
	_, err = New(cfg, Options{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	cfg, _ = pipelineConfig(t)
	cfg.Providers = []config.ProviderConfig{
		{Name: "p", Components: []config.ComponentConfig{{Name: "enc", Kind: "encoder"}}},
	}
	_, err = New(cfg, Options{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestBuild(t *testing.T) {
	cfg, _ := pipelineConfig(t)
	cfg.Pipeline.Nodes[0].Controls = map[string]any{"pattern": "gradient", "level": 128}
	eng := newEngine(t, cfg, Options{})

	require.NoError(t, eng.Build(context.Background()))
	assert.ErrorIs(t, eng.Build(context.Background()), errors.ErrResourceConflict)

	nodes := eng.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, []string{"pattern", "passthrough", "sink"}, []string{nodes[0].Label, nodes[1].Label, nodes[2].Label})

	src, ok := eng.Node("pattern")
	require.True(t, ok)
	ctl, ok := src.Component.Controls().Find("level")
	require.True(t, ok)
	require.IsType(t, &control.Integer{}, ctl)
	assert.Equal(t, int64(128), ctl.(*control.Integer).Value())

	sink, ok := eng.Node("sink")
	require.True(t, ok)
	assert.Equal(t, "writer", sink.Component.Name())
	in, ok := sink.Component.Port(0)
	require.True(t, ok)
	assert.Len(t, in.Connections(), 1)

	_, ok = eng.Node("missing")
	assert.False(t, ok)
	assert.True(t, eng.Health().IsHealthy())
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   error
	}{
		{"unknown component", func(c *config.Config) {
			c.Pipeline.Nodes[1].Name = "passthrough"
			c.Pipeline.Nodes[1].Component = "encoder"
		}, errors.ErrNotFound},
		{"missing control", func(c *config.Config) {
			c.Pipeline.Nodes[0].Controls = map[string]any{"zoom": 2}
		}, errors.ErrNotFound},
		{"rejected property", func(c *config.Config) {
			c.Pipeline.Nodes[0].Properties["frame_size"] = 0
		}, errors.ErrInvalidConfig},
		{"missing port", func(c *config.Config) {
			c.Pipeline.Connections[1].To = "sink.3"
		}, errors.ErrNotFound},
		{"same direction", func(c *config.Config) {
			c.Pipeline.Connections[1].From = "passthrough.0"
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := pipelineConfig(t)
			tt.mutate(cfg)
			eng := newEngine(t, cfg, Options{})

			err := eng.Build(context.Background())
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Empty(t, eng.Nodes(), "partial builds are released")
			assert.Empty(t, eng.monitor.ListComponents())
		})
	}
}

func TestRunToCompletion(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg, root := pipelineConfig(t)
	reg := metric.NewMetricsRegistry()
	eng, err := New(cfg, Options{MetricsRegistry: reg})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, eng.Build(ctx))
	require.NoError(t, eng.Run(ctx))

	data, err := os.ReadFile(filepath.Join(root, "out.raw"))
	require.NoError(t, err)
	assert.Len(t, data, 3*16)

	for _, n := range eng.Nodes() {
		assert.Equal(t, component.StateUnloaded, n.Component.State(), n.Label)
	}
	assert.True(t, eng.Health().IsHealthy())

	m := eng.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.builds.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.starts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stops.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeNodes))

	require.NoError(t, eng.Close(context.Background()))
	require.NoError(t, eng.Close(context.Background()))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeNodes))
	assert.ErrorIs(t, eng.Start(ctx), errors.ErrInvalidTransition)
}

func unbounded(t *testing.T) *Engine {
	t.Helper()
	cfg, _ := pipelineConfig(t)
	cfg.Pipeline.Nodes[0].Properties = map[string]any{"frame_size": 16, "interval": "5ms"}
	eng := newEngine(t, cfg, Options{})
	require.NoError(t, eng.Build(context.Background()))
	return eng
}

func waitExecuting(t *testing.T, eng *Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, n := range eng.Nodes() {
			if n.Component.State() != component.StateExecuting {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func TestRunStoppedByStop(t *testing.T) {
	eng := unbounded(t)

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()
	waitExecuting(t, eng)

	require.NoError(t, eng.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	for _, n := range eng.Nodes() {
		assert.Equal(t, component.StateUnloaded, n.Component.State(), n.Label)
	}

	// A stopped pipeline starts again.
	require.NoError(t, eng.Start(context.Background()))
	waitExecuting(t, eng)
	require.NoError(t, eng.Stop(context.Background()))
}

func TestRunCancelled(t *testing.T) {
	eng := unbounded(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	waitExecuting(t, eng)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReportsNodeFailure(t *testing.T) {
	eng := unbounded(t)

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()
	waitExecuting(t, eng)

	pt, _ := eng.Node("passthrough")
	pt.Component.Invalidate(errors.Newf(errors.ErrorFatal, errors.ErrExternalFault, "test", "Invalidate", "device lost"))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrExternalFault)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not report the failure")
	}
	assert.True(t, eng.Health().IsUnhealthy())
}

func TestStartFailureUnwinds(t *testing.T) {
	cfg, _ := pipelineConfig(t)
	cfg.Pipeline.Nodes[2].Properties = map[string]any{"uri": "file:missing.raw", "mode": "append"}
	eng := newEngine(t, cfg, Options{})
	require.NoError(t, eng.Build(context.Background()))

	err := eng.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	for _, n := range eng.Nodes() {
		assert.Contains(t, []component.State{component.StateUnloaded, component.StateInvalid}, n.Component.State(), n.Label)
	}
}

func TestStartRequiresBuild(t *testing.T) {
	cfg, _ := pipelineConfig(t)
	eng := newEngine(t, cfg, Options{})
	assert.ErrorIs(t, eng.Start(context.Background()), errors.ErrInvalidTransition)
	assert.NoError(t, eng.Stop(context.Background()), "stopping an idle engine is a no-op")
}

func TestMetricsReregisterAfterClose(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	cfg, _ := pipelineConfig(t)

	first, err := New(cfg, Options{MetricsRegistry: reg})
	require.NoError(t, err)
	require.NotNil(t, first.metrics)
	require.NoError(t, first.Close(context.Background()))

	second, err := New(cfg, Options{MetricsRegistry: reg})
	require.NoError(t, err)
	defer second.Close(context.Background())
	assert.NotNil(t, second.metrics, "a replacement engine registers its own metrics")
}
