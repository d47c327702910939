package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
)

func TestMonitorUpdateAndGet(t *testing.T) {
	m := NewMonitor()
	assert.Zero(t, m.Count())

	m.Update("reader", Status{Component: "other", Status: "healthy"})
	s, ok := m.Get("reader")
	require.True(t, ok)
	assert.Equal(t, "reader", s.Component, "name wins over the status field")
	assert.False(t, s.Timestamp.IsZero())

	m.UpdateDegraded("writer", "backpressure")
	m.UpdateUnhealthy("splitter", "invalid")
	assert.Equal(t, []string{"reader", "splitter", "writer"}, m.ListComponents())

	all := m.GetAll()
	delete(all, "reader")
	assert.Equal(t, 3, m.Count(), "GetAll returns a copy")

	m.Remove("splitter")
	_, ok = m.Get("splitter")
	assert.False(t, ok)
	assert.True(t, m.AggregateHealth("pipeline").IsDegraded())

	m.Clear()
	assert.Zero(t, m.Count())
	assert.True(t, m.AggregateHealth("pipeline").IsHealthy())
}

func TestMonitorTrack(t *testing.T) {
	deps := component.Dependencies{NegotiationTimeout: time.Second}
	c, err := component.NewBase(component.Config{Name: "cam"}, deps)
	require.NoError(t, err)

	m := NewMonitor()
	cancel := m.Track(c)
	s, ok := m.Get("cam")
	require.True(t, ok)
	assert.Equal(t, component.StateUnloaded.String(), s.State)

	require.NoError(t, c.SetState(context.Background(), component.StateExecuting))
	require.NoError(t, c.SetState(context.Background(), component.StatePaused))
	s, _ = m.Get("cam")
	assert.True(t, s.IsDegraded())

	c.Invalidate(errors.WrapFatal(errors.ErrFatalFault, "Test", "Track", "corrupt"))
	s, _ = m.Get("cam")
	assert.True(t, s.IsUnhealthy())
	assert.True(t, m.AggregateHealth("pipeline").IsUnhealthy())

	cancel()
	_, ok = m.Get("cam")
	assert.False(t, ok)
}

func TestMonitorConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				switch (i + j) % 5 {
				case 0:
					m.UpdateHealthy("comp", "ok")
				case 1:
					m.UpdateUnhealthy("comp", "down")
				case 2:
					_, _ = m.Get("comp")
				case 3:
					_ = m.GetAll()
				case 4:
					_ = m.AggregateHealth("pipeline")
				}
			}
		}()
	}
	wg.Wait()

	m.UpdateHealthy("final", "ok")
	s, ok := m.Get("final")
	require.True(t, ok)
	assert.Equal(t, "final", s.Component)
}
