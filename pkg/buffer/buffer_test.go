package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/metric"
)

func TestCircularBufferBasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)
	defer buf.Close()

	assert.Equal(t, 3, buf.Capacity())
	require.NoError(t, buf.Write("first"))
	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))
	assert.Equal(t, 3, buf.Size())

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", v)

	assert.Equal(t, []string{"second", "third"}, buf.Drain())
	assert.Equal(t, 0, buf.Size())
	assert.Nil(t, buf.Drain())

	_, ok = buf.Read()
	assert.False(t, ok)
}

func TestCircularBufferZeroCapacity(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Capacity())
}

func TestBlockingWriteUnblocksOnRead(t *testing.T) {
	defer goleak.VerifyNone(t)

	buf, err := NewCircularBuffer[int](1)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Write(1))

	done := make(chan error, 1)
	go func() { done <- buf.WriteWithContext(context.Background(), 2) }()

	select {
	case <-done:
		t.Fatal("write should block while full")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	require.NoError(t, <-done)
	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, int64(1), buf.Stats().Overflows())
}

func TestBlockingWriteContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	buf, err := NewCircularBuffer[int](1)
	require.NoError(t, err)
	defer buf.Close()
	require.NoError(t, buf.Write(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = buf.WriteWithContext(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, buf.Size())
}

func TestReadWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	buf, err := NewCircularBuffer[int](4)
	require.NoError(t, err)

	t.Run("waits for writer", func(t *testing.T) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = buf.Write(7)
		}()
		v, err := buf.ReadWithContext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := buf.ReadWithContext(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("closed drains then fails", func(t *testing.T) {
		require.NoError(t, buf.Write(9))
		require.NoError(t, buf.Close())
		require.NoError(t, buf.Close())

		v, err := buf.ReadWithContext(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 9, v)

		_, err = buf.ReadWithContext(context.Background())
		assert.ErrorIs(t, err, errors.ErrClosed)

		assert.ErrorIs(t, buf.Write(1), errors.ErrClosed)
	})
}

func TestCloseWakesBlockedReaders(t *testing.T) {
	defer goleak.VerifyNone(t)

	buf, err := NewCircularBuffer[int](1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := buf.ReadWithContext(context.Background())
			assert.ErrorIs(t, err, errors.ErrClosed)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, buf.Close())
	wg.Wait()
}

func TestConcurrentProducerConsumer(t *testing.T) {
	buf, err := NewCircularBuffer[int](8)
	require.NoError(t, err)
	defer buf.Close()

	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			_ = buf.WriteWithContext(context.Background(), i)
		}
	}()

	for i := 0; i < n; i++ {
		v, err := buf.ReadWithContext(context.Background())
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	assert.Equal(t, int64(n), buf.Stats().Writes())
	assert.Equal(t, int64(n), buf.Stats().Reads())
	assert.LessOrEqual(t, buf.Stats().MaxSize(), int64(8))
}

func TestBufferMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	buf, err := NewCircularBuffer[int](4, WithMetrics[int](registry, "a.out"))
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	_, _ = buf.Read()

	impl := buf.(*circularBuffer[int])
	assert.Equal(t, 2.0, testutil.ToFloat64(impl.metrics.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.metrics.depth))

	_, err = NewCircularBuffer[int](4, WithMetrics[int](registry, "a.out"))
	assert.Error(t, err, "same prefix registers twice")
	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(),
		"mediaflow_queue_writes_total", "mediaflow_queue_reads_total", "mediaflow_queue_depth")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "failed registration leaves the live queue's metrics alone")

	require.NoError(t, buf.Close())
	_, err = NewCircularBuffer[int](4, WithMetrics[int](registry, "a.out"))
	assert.NoError(t, err, "close releases the prefix")
}
