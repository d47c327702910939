package arena

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediaflow/errors"
)

func TestNew_Validation(t *testing.T) {
	producer := uuid.New()

	_, err := New(0, 16, producer)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = New(2, 0, producer)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = New(2, 16, uuid.Nil)
	assert.ErrorIs(t, err, errors.ErrValidation)

	a, err := New(3, 4096, producer)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Count())
	assert.Equal(t, 4096, a.Size())
	assert.Equal(t, producer, a.Producer())
}

func TestArena_OwnershipTransfer(t *testing.T) {
	producer, consumer, stranger := uuid.New(), uuid.New(), uuid.New()
	a, err := New(2, 8, producer)
	require.NoError(t, err)

	ctx := context.Background()
	h, err := a.Acquire(ctx, producer)
	require.NoError(t, err)

	buf, err := a.Bytes(h, producer)
	require.NoError(t, err)
	copy(buf, "frame")
	require.NoError(t, a.Stamp(h, producer, Meta{Length: 5, Sequence: 1}))

	require.NoError(t, a.Transfer(h, producer, consumer))

	// producer lost access
	_, err = a.Bytes(h, producer)
	assert.ErrorIs(t, err, errors.ErrNotOwner)
	assert.ErrorIs(t, err, errors.ErrResourceConflict)

	_, _, err = a.Payload(h, stranger)
	assert.ErrorIs(t, err, errors.ErrNotOwner)

	payload, meta, err := a.Payload(h, consumer)
	require.NoError(t, err)
	assert.Equal(t, "frame", string(payload))
	assert.Equal(t, uint64(1), meta.Sequence)

	assert.ErrorIs(t, a.Release(h, producer), errors.ErrNotOwner)
	require.NoError(t, a.Release(h, consumer))
	assert.ErrorIs(t, a.Release(h, consumer), errors.ErrNotOwner, "double release")

	owner, free, err := a.Owner(h)
	require.NoError(t, err)
	assert.True(t, free)
	assert.Equal(t, producer, owner)
}

func TestArena_AcquireOnlyProducer(t *testing.T) {
	a, err := New(1, 8, uuid.New())
	require.NoError(t, err)

	_, err = a.Acquire(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errors.ErrNotOwner)

	_, ok, err := a.TryAcquire(uuid.New())
	assert.False(t, ok)
	assert.ErrorIs(t, err, errors.ErrNotOwner)
}

func TestArena_AcquireWaitsForRelease(t *testing.T) {
	producer, consumer := uuid.New(), uuid.New()
	a, err := New(1, 8, producer)
	require.NoError(t, err)

	h, err := a.Acquire(context.Background(), producer)
	require.NoError(t, err)

	_, ok, err := a.TryAcquire(producer)
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx, producer)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, a.Transfer(h, producer, consumer))
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = a.Release(h, consumer)
	}()

	h2, err := a.Acquire(context.Background(), producer)
	require.NoError(t, err)
	assert.Equal(t, h.Index(), h2.Index())
}

func TestArena_StampBounds(t *testing.T) {
	producer := uuid.New()
	a, err := New(1, 4, producer)
	require.NoError(t, err)
	h, err := a.Acquire(context.Background(), producer)
	require.NoError(t, err)

	assert.ErrorIs(t, a.Stamp(h, producer, Meta{Length: 5}), errors.ErrCapacityOverflow)
	assert.NoError(t, a.Stamp(h, producer, Meta{Length: 4}))
}

func TestArena_ForeignHandle(t *testing.T) {
	producer := uuid.New()
	a, err := New(1, 4, producer)
	require.NoError(t, err)
	b, err := New(1, 4, producer)
	require.NoError(t, err)

	h, err := b.Acquire(context.Background(), producer)
	require.NoError(t, err)

	_, err = a.Bytes(h, producer)
	assert.ErrorIs(t, err, errors.ErrNotOwner)
	_, err = a.Bytes(Handle{}, producer)
	assert.ErrorIs(t, err, errors.ErrNotOwner)
	assert.True(t, Handle{}.IsZero())
}

func TestArena_Close(t *testing.T) {
	producer, consumer := uuid.New(), uuid.New()
	a, err := New(3, 4, producer)
	require.NoError(t, err)

	h1, err := a.Acquire(context.Background(), producer)
	require.NoError(t, err)
	h2, err := a.Acquire(context.Background(), producer)
	require.NoError(t, err)
	require.NoError(t, a.Transfer(h2, producer, consumer))

	assert.Equal(t, 2, a.Outstanding())
	assert.Equal(t, 1, a.HeldBy(consumer))

	waiter := make(chan error, 1)
	go func() {
		_, err := a.Acquire(context.Background(), producer)
		_, err = a.Acquire(context.Background(), producer)
		waiter <- err
	}()

	time.Sleep(5 * time.Millisecond)
	err = a.Close()
	assert.ErrorIs(t, err, errors.ErrReleaseFailure)
	assert.NoError(t, a.Close())

	select {
	case err := <-waiter:
		assert.ErrorIs(t, err, errors.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("waiting producer not woken by close")
	}

	_, err = a.Bytes(h1, producer)
	assert.ErrorIs(t, err, errors.ErrClosed)
}
