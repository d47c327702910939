package component

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/metric"
	"github.com/c360/mediaflow/pkg/arena"
	"github.com/c360/mediaflow/pkg/property"
)

type pair struct {
	a, b    *Base
	out, in *Port
}

func newPair(t *testing.T, outCfg, inCfg PortConfig) pair {
	t.Helper()
	a := newTestBase(t, "producer", Hooks{}, RoleSource)
	b := newTestBase(t, "consumer", Hooks{}, RoleSink)
	outCfg.Direction = DirectionOutput
	inCfg.Direction = DirectionInput
	out, err := a.AddPort(outCfg)
	require.NoError(t, err)
	in, err := b.AddPort(inCfg)
	require.NoError(t, err)
	return pair{a: a, b: b, out: out, in: in}
}

func TestNegotiation_AgreesOnLargerRequirements(t *testing.T) {
	p := newPair(t,
		PortConfig{MinBuffers: 2, BufferSize: 4096},
		PortConfig{MinBuffers: 3, BufferSize: 2048})
	conn, err := Connect(p.out, p.in)
	require.NoError(t, err)

	count, size := conn.Agreed()
	assert.Equal(t, 3, count)
	assert.Equal(t, 4096, size)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.a.SetState(ctx, StateIdle) })
	g.Go(func() error { return p.b.SetState(ctx, StateIdle) })
	require.NoError(t, g.Wait())

	for _, port := range []*Port{p.out, p.in} {
		assert.True(t, port.Populated(), "%s populated", port)
		assert.Equal(t, 3, port.ActualBuffers())
		assert.Equal(t, 4096, port.CommittedSize())
	}
	require.NotNil(t, conn.Arena())
	assert.Equal(t, 3, conn.Arena().Count())
	assert.Equal(t, StateIdle, p.a.State())
	assert.Equal(t, StateIdle, p.b.State())
}

func TestNegotiation_PeerTimeout(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	a, err := NewBase(Config{Name: "lonely"}, Dependencies{
		MetricsRegistry:    registry,
		NegotiationTimeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	b := newTestBase(t, "asleep", Hooks{})
	out, err := a.AddPort(PortConfig{Direction: DirectionOutput, MinBuffers: 1, BufferSize: 8})
	require.NoError(t, err)
	in, err := b.AddPort(PortConfig{Direction: DirectionInput, MinBuffers: 1, BufferSize: 8})
	require.NoError(t, err)
	_, err = Connect(out, in)
	require.NoError(t, err)

	err = a.SetState(context.Background(), StateIdle)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, StateLoaded, a.State(), "falls back to loaded")
	assert.False(t, out.Populated())

	assert.Equal(t, 1.0, testutil.ToFloat64(
		registry.CoreMetrics().NegotiationFailures.WithLabelValues("lonely", "timeout")))
}

func TestNegotiation_CancelAbortsToLoaded(t *testing.T) {
	p := newPair(t, PortConfig{MinBuffers: 1, BufferSize: 8}, PortConfig{MinBuffers: 1, BufferSize: 8})
	_, err := Connect(p.out, p.in)
	require.NoError(t, err)

	var states []State
	p.a.OnStateChange(func(_, to State) { states = append(states, to) })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err = p.a.SetState(ctx, StateIdle)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateLoaded, p.a.State())
	assert.Equal(t, []State{StateLoaded, StateWaitForResources, StateLoaded}, states)
}

func TestNegotiation_UnconnectedEnabledPortFallsBack(t *testing.T) {
	b := newTestBase(t, "dangling", Hooks{})
	_, err := b.AddPort(PortConfig{Direction: DirectionOutput, MinBuffers: 1, BufferSize: 8})
	require.NoError(t, err)

	err = b.SetState(context.Background(), StateIdle)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.Equal(t, StateLoaded, b.State())
}

func TestNegotiation_DisabledPortExcluded(t *testing.T) {
	b := newTestBase(t, "partial", Hooks{})
	unused, err := b.AddPort(PortConfig{Direction: DirectionOutput, MinBuffers: 1, BufferSize: 8, Disabled: true})
	require.NoError(t, err)

	require.NoError(t, b.SetState(context.Background(), StateIdle))
	assert.False(t, unused.Populated())

	require.NoError(t, unused.SetBufferRequirements(4, 64), "disabled ports stay configurable")
	assert.Equal(t, 4, unused.MinBuffers())
}

func TestNegotiation_RejectedWhileProcessing(t *testing.T) {
	p := newPair(t, PortConfig{MinBuffers: 1, BufferSize: 8}, PortConfig{MinBuffers: 1, BufferSize: 8})
	conn, err := Connect(p.out, p.in)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.b.SetState(ctx, StateLoaded))
	require.NoError(t, p.a.SetState(ctx, StateExecuting))

	assert.ErrorIs(t, p.out.SetBufferRequirements(2, 16), errors.ErrNegotiationBusy)
	assert.ErrorIs(t, p.in.SetFormat(StreamVideo, "video/raw"), errors.ErrNegotiationBusy, "peer is executing")
	assert.ErrorIs(t, p.in.SetEnabled(false), errors.ErrNegotiationBusy)
	assert.ErrorIs(t, conn.Disconnect(), errors.ErrNegotiationBusy)

	extra := newTestBase(t, "late", Hooks{})
	late, err := extra.AddPort(PortConfig{Direction: DirectionInput, MinBuffers: 1, BufferSize: 8})
	require.NoError(t, err)
	_, err = Connect(p.out, late)
	assert.ErrorIs(t, err, errors.ErrNegotiationBusy)

	require.NoError(t, p.a.SetState(ctx, StatePaused))
	assert.ErrorIs(t, p.out.SetBufferRequirements(2, 16), errors.ErrNegotiationBusy)

	require.NoError(t, p.a.SetState(ctx, StateIdle))
	assert.NoError(t, p.in.SetBufferRequirements(2, 16))
}

func TestRenegotiation_GrowsArena(t *testing.T) {
	p := newPair(t, PortConfig{MinBuffers: 1, BufferSize: 8}, PortConfig{MinBuffers: 1, BufferSize: 8})
	conn, err := Connect(p.out, p.in)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.b.SetState(ctx, StateLoaded))
	require.NoError(t, p.a.SetState(ctx, StateIdle))
	require.NoError(t, p.b.SetState(ctx, StateIdle))
	first := conn.Arena()

	require.NoError(t, p.b.SetState(ctx, StateLoaded))
	require.NoError(t, p.in.SetBufferRequirements(4, 32))
	require.NoError(t, p.b.SetState(ctx, StateIdle))

	assert.NotSame(t, first, conn.Arena())
	assert.Equal(t, 4, p.in.ActualBuffers())
	assert.Equal(t, 4, p.out.ActualBuffers(), "producer shares the grown arena")
}

func TestConnect_Rules(t *testing.T) {
	t.Run("directions must differ", func(t *testing.T) {
		a := newTestBase(t, "a", Hooks{})
		b := newTestBase(t, "b", Hooks{})
		x, _ := a.AddPort(PortConfig{Direction: DirectionOutput, MinBuffers: 1, BufferSize: 1})
		y, _ := b.AddPort(PortConfig{Direction: DirectionOutput, MinBuffers: 1, BufferSize: 1})
		_, err := Connect(x, y)
		assert.ErrorIs(t, err, errors.ErrIncompatibleFormat)
		assert.False(t, x.Populated())
		assert.False(t, y.Populated())
	})

	t.Run("swapped arguments", func(t *testing.T) {
		p := newPair(t, PortConfig{MinBuffers: 1, BufferSize: 1}, PortConfig{MinBuffers: 1, BufferSize: 1})
		conn, err := Connect(p.in, p.out)
		require.NoError(t, err)
		assert.Same(t, p.out, conn.Output())
		assert.Equal(t, "producer.0->consumer.0", conn.Name())
	})

	mimeCases := []struct {
		name    string
		out, in PortConfig
		ok      bool
	}{
		{"equal", PortConfig{MIME: "video/raw"}, PortConfig{MIME: "video/raw"}, true},
		{"empty side", PortConfig{MIME: "video/raw"}, PortConfig{}, true},
		{"wildcard", PortConfig{MIME: AnyMIME}, PortConfig{MIME: "audio/pcm"}, true},
		{"mismatch", PortConfig{MIME: "video/raw"}, PortConfig{MIME: "video/mjpeg"}, false},
		{"accepted by consumer", PortConfig{MIME: "video/raw"},
			PortConfig{MIME: "video/mjpeg", Accepts: []string{"video/raw"}}, true},
		{"stream type mismatch", PortConfig{StreamType: StreamAudio}, PortConfig{StreamType: StreamVideo}, false},
		{"unknown stream type", PortConfig{StreamType: StreamAudio}, PortConfig{}, true},
	}
	for _, tc := range mimeCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.out.MinBuffers, tc.out.BufferSize = 1, 1
			tc.in.MinBuffers, tc.in.BufferSize = 1, 1
			p := newPair(t, tc.out, tc.in)
			_, err := Connect(p.out, p.in)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, errors.ErrIncompatibleFormat)
			}
		})
	}

	t.Run("single connection per port", func(t *testing.T) {
		p := newPair(t, PortConfig{MinBuffers: 1, BufferSize: 1}, PortConfig{MinBuffers: 1, BufferSize: 1})
		_, err := Connect(p.out, p.in)
		require.NoError(t, err)

		other := newTestBase(t, "other", Hooks{})
		in2, _ := other.AddPort(PortConfig{Direction: DirectionInput, MinBuffers: 1, BufferSize: 1})
		out2, _ := other.AddPort(PortConfig{Index: 1, Direction: DirectionOutput, MinBuffers: 1, BufferSize: 1})

		_, err = Connect(p.out, in2)
		assert.ErrorIs(t, err, errors.ErrResourceConflict)
		_, err = Connect(out2, p.in)
		assert.ErrorIs(t, err, errors.ErrResourceConflict)
	})
}

func TestConnect_FormatChangeCheckedAtNegotiation(t *testing.T) {
	p := newPair(t,
		PortConfig{MinBuffers: 1, BufferSize: 1, MIME: "video/raw"},
		PortConfig{MinBuffers: 1, BufferSize: 1, MIME: "video/raw"})
	_, err := Connect(p.out, p.in)
	require.NoError(t, err)

	require.NoError(t, p.in.SetFormat(StreamVideo, "video/h264"))
	require.NoError(t, p.b.SetState(context.Background(), StateLoaded))

	err = p.a.SetState(context.Background(), StateIdle)
	assert.ErrorIs(t, err, errors.ErrIncompatibleFormat)
	assert.False(t, p.out.Populated())
	assert.False(t, p.in.Populated())
	assert.Equal(t, StateLoaded, p.a.State())
}

func negotiated(t *testing.T, outCfg, inCfg PortConfig) (pair, *Connection) {
	t.Helper()
	p := newPair(t, outCfg, inCfg)
	conn, err := Connect(p.out, p.in)
	require.NoError(t, err)
	g := errgroup.Group{}
	g.Go(func() error { return p.a.SetState(context.Background(), StateExecuting) })
	g.Go(func() error { return p.b.SetState(context.Background(), StateExecuting) })
	require.NoError(t, g.Wait())
	return p, conn
}

func TestBufferExchange(t *testing.T) {
	p, conn := negotiated(t, PortConfig{MinBuffers: 2, BufferSize: 16}, PortConfig{MinBuffers: 1, BufferSize: 8})
	ctx := context.Background()

	h, err := p.out.Acquire(ctx)
	require.NoError(t, err)
	buf, err := p.out.Bytes(h)
	require.NoError(t, err)
	require.Len(t, buf, 16)
	n := copy(buf, "hello frame")
	require.NoError(t, p.out.Stamp(h, arena.Meta{Length: n, Sequence: 7}))
	require.NoError(t, p.out.Send(h))

	_, err = p.out.Bytes(h)
	assert.ErrorIs(t, err, errors.ErrNotOwner, "producer gave it away")
	assert.ErrorIs(t, p.out.Send(h), errors.ErrNotOwner)

	got, err := p.in.Receive(ctx)
	require.NoError(t, err)
	payload, meta, err := p.in.Payload(got)
	require.NoError(t, err)
	assert.Equal(t, "hello frame", string(payload))
	assert.Equal(t, uint64(7), meta.Sequence)
	assert.Equal(t, 1, conn.Arena().HeldBy(p.in.ID()))

	require.NoError(t, p.in.Release(got))
	assert.ErrorIs(t, p.in.Release(got), errors.ErrNotOwner)
	assert.Equal(t, 0, conn.Arena().Outstanding())

	_, err = p.in.Acquire(ctx)
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)
	_, err = p.out.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)
}

func TestBufferExchange_ProducerWaitsForRelease(t *testing.T) {
	p, _ := negotiated(t, PortConfig{MinBuffers: 1, BufferSize: 4}, PortConfig{MinBuffers: 1, BufferSize: 4})
	ctx := context.Background()

	h, err := p.out.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, p.out.Send(h))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = p.out.Acquire(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := p.in.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, p.in.Release(got))

	again, err := p.out.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.Index(), again.Index())
}

func gatheredQueueValue(t *testing.T, registry *metric.MetricsRegistry, family, queue string) (float64, bool) {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() != "queue" || l.GetValue() != queue {
					continue
				}
				if c := m.GetCounter(); c != nil {
					return c.GetValue(), true
				}
				return m.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func TestConnectionQueueMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	deps := Dependencies{MetricsRegistry: registry, NegotiationTimeout: 200 * time.Millisecond}
	a, err := NewBase(Config{Name: "camera"}, deps)
	require.NoError(t, err)
	b, err := NewBase(Config{Name: "display"}, deps)
	require.NoError(t, err)
	out, err := a.AddPort(PortConfig{Direction: DirectionOutput, MinBuffers: 2, BufferSize: 4})
	require.NoError(t, err)
	in, err := b.AddPort(PortConfig{Direction: DirectionInput, MinBuffers: 2, BufferSize: 4})
	require.NoError(t, err)
	conn, err := Connect(out, in)
	require.NoError(t, err)
	queue := "connection_" + conn.Name()

	ctx := context.Background()
	g := errgroup.Group{}
	g.Go(func() error { return a.SetState(ctx, StateExecuting) })
	g.Go(func() error { return b.SetState(ctx, StateExecuting) })
	require.NoError(t, g.Wait())

	for i := 0; i < 2; i++ {
		h, err := out.Acquire(ctx)
		require.NoError(t, err)
		require.NoError(t, out.Send(h))
	}
	got, err := in.Receive(ctx)
	require.NoError(t, err)

	writes, ok := gatheredQueueValue(t, registry, "mediaflow_queue_writes_total", queue)
	require.True(t, ok, "queue exported under %s", queue)
	assert.Equal(t, 2.0, writes)
	reads, _ := gatheredQueueValue(t, registry, "mediaflow_queue_reads_total", queue)
	assert.Equal(t, 1.0, reads)
	depth, _ := gatheredQueueValue(t, registry, "mediaflow_queue_depth", queue)
	assert.Equal(t, 1.0, depth)

	require.NoError(t, in.Release(got))
	got, err = in.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, in.Release(got))
	g.Go(func() error { return a.SetState(ctx, StateIdle) })
	g.Go(func() error { return b.SetState(ctx, StateIdle) })
	require.NoError(t, g.Wait())
	require.NoError(t, conn.Disconnect())

	_, ok = gatheredQueueValue(t, registry, "mediaflow_queue_writes_total", queue)
	assert.False(t, ok, "disconnect unregisters the queue")
}

func TestSplitterFanOut(t *testing.T) {
	split := newTestBase(t, "tee", Hooks{}, RoleSplitter)
	out, err := split.AddPort(PortConfig{Direction: DirectionOutput, MinBuffers: 1, BufferSize: 4})
	require.NoError(t, err)

	var sinks []*Base
	for _, name := range []string{"left", "right"} {
		s := newTestBase(t, name, Hooks{})
		in, err := s.AddPort(PortConfig{Direction: DirectionInput, MinBuffers: 2, BufferSize: 4})
		require.NoError(t, err)
		_, err = Connect(out, in)
		require.NoError(t, err)
		sinks = append(sinks, s)
	}

	conns := out.Connections()
	require.Len(t, conns, 2)

	g := errgroup.Group{}
	for _, c := range append(sinks, split) {
		g.Go(func() error { return c.SetState(context.Background(), StateExecuting) })
	}
	require.NoError(t, g.Wait())

	assert.True(t, out.Populated())
	assert.NotEqual(t, conns[0].Arena().ID(), conns[1].Arena().ID(), "one arena per consumer")

	_, err = out.Acquire(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation, "fan-out needs a connection")

	for i, c := range conns {
		h, err := c.Acquire(context.Background())
		require.NoError(t, err)
		require.NoError(t, out.Send(h), "Send routes by handle")
		got, err := c.Input().Receive(context.Background())
		require.NoError(t, err)
		require.NoError(t, c.Input().Release(got), "consumer %d", i)
	}
}

func TestDisconnect(t *testing.T) {
	p := newPair(t, PortConfig{MinBuffers: 1, BufferSize: 4}, PortConfig{MinBuffers: 1, BufferSize: 4})
	conn, err := Connect(p.out, p.in)
	require.NoError(t, err)

	g := errgroup.Group{}
	g.Go(func() error { return p.a.SetState(context.Background(), StateIdle) })
	g.Go(func() error { return p.b.SetState(context.Background(), StateIdle) })
	require.NoError(t, g.Wait())
	require.True(t, p.in.Populated())

	require.NoError(t, conn.Disconnect())
	require.NoError(t, conn.Disconnect(), "idempotent")
	assert.False(t, p.out.Populated())
	assert.False(t, p.in.Populated())
	assert.False(t, p.out.Connected())
	assert.Nil(t, conn.Arena())

	_, err = conn.Acquire(context.Background())
	assert.ErrorIs(t, err, errors.ErrClosed)

	_, err = Connect(p.out, p.in)
	assert.NoError(t, err, "ports are free again")
}

func TestIdleToLoadedReleasesCommitment(t *testing.T) {
	p := newPair(t, PortConfig{MinBuffers: 1, BufferSize: 4}, PortConfig{MinBuffers: 1, BufferSize: 4})
	conn, err := Connect(p.out, p.in)
	require.NoError(t, err)

	g := errgroup.Group{}
	g.Go(func() error { return p.a.SetState(context.Background(), StateIdle) })
	g.Go(func() error { return p.b.SetState(context.Background(), StateIdle) })
	require.NoError(t, g.Wait())

	require.NoError(t, p.b.SetState(context.Background(), StateLoaded))
	assert.False(t, p.in.Populated())
	assert.True(t, p.out.Populated(), "producer keeps its commitment")
	assert.NotNil(t, conn.Arena())

	require.NoError(t, p.a.SetState(context.Background(), StateUnloaded))
	assert.Nil(t, conn.Arena(), "arena dropped once both sides let go")
}

func TestPortProperties(t *testing.T) {
	b := newTestBase(t, "props", Hooks{})
	port, err := b.AddPort(PortConfig{Direction: DirectionOutput, MinBuffers: 1, BufferSize: 1})
	require.NoError(t, err)

	_, err = port.Property("width")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, had := port.SetProperty("width", property.Int(640))
	assert.False(t, had)
	v, err := port.Property("width")
	require.NoError(t, err)
	w, err := v.AsInt()
	require.NoError(t, err)
	assert.Equal(t, int64(640), w)

	_, err = v.AsString()
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)
	assert.Equal(t, []string{"width"}, port.Properties().Keys())
}
