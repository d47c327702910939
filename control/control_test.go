package control

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/metric"
	"github.com/c360/mediaflow/pkg/property"
)

type recordingSync struct {
	mu       sync.Mutex
	commits  []string
	values   map[string]property.Value
	device   map[string]property.Value
	block    bool
	failWith error
}

func newRecordingSync() *recordingSync {
	return &recordingSync{
		values: make(map[string]property.Value),
		device: make(map[string]property.Value),
	}
}

func (s *recordingSync) Commit(ctx context.Context, name string, value property.Value) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.failWith != nil {
		return s.failWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, name)
	s.values[name] = value
	return nil
}

func (s *recordingSync) Refresh(ctx context.Context, name string) (property.Value, error) {
	if s.block {
		<-ctx.Done()
		return property.Value{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, "refresh:"+name)
	return s.device[name], nil
}

func (s *recordingSync) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commits...)
}

func TestInteger_Validation(t *testing.T) {
	c, err := NewInteger("brightness", 0, 100, 5, 50)
	require.NoError(t, err)

	assert.Equal(t, int64(0), c.Min())
	assert.Equal(t, int64(100), c.Max())
	assert.Equal(t, int64(5), c.Step())

	require.NoError(t, c.Set(100))
	assert.Equal(t, int64(100), c.Value())

	tests := []struct {
		name  string
		value int64
	}{
		{"one step above max", 105},
		{"below min", -5},
		{"off grid", 52},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Set(tt.value)
			assert.ErrorIs(t, err, errors.ErrValidation)
			assert.True(t, errors.IsInvalid(err))
			assert.Equal(t, int64(100), c.Value(), "value unchanged")
		})
	}
}

func TestInteger_GridRelativeToMinimum(t *testing.T) {
	c, err := NewInteger("offset", 3, 23, 10, 3)
	require.NoError(t, err)

	assert.NoError(t, c.Set(13))
	assert.NoError(t, c.Set(23))
	assert.ErrorIs(t, c.Set(10), errors.ErrValidation)
}

func TestNewInteger_Rejects(t *testing.T) {
	_, err := NewInteger("zero-step", 0, 10, 0, 0)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = NewInteger("swapped", 10, 0, 1, 5)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = NewInteger("bad-default", 0, 10, 2, 3)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = NewInteger("has.dot", 0, 10, 1, 0)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = NewInteger("", 0, 10, 1, 0)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestInteger_IncreaseDecreaseAtBounds(t *testing.T) {
	c, err := NewInteger("zoom", 0, 10, 4, 4)
	require.NoError(t, err)

	c.Increase()
	assert.Equal(t, int64(8), c.Value())
	c.Increase()
	assert.Equal(t, int64(8), c.Value(), "8+4 exceeds max")

	c.Decrease()
	c.Decrease()
	assert.Equal(t, int64(0), c.Value())
	c.Decrease()
	assert.Equal(t, int64(0), c.Value())

	c.Reset()
	assert.Equal(t, int64(4), c.Value())
}

func TestMenu(t *testing.T) {
	m, err := NewMenu("mode", []string{"auto", "manual", "shutter"}, "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, m.Index())
	assert.NoError(t, m.Set("auto"))
	assert.Equal(t, "auto", m.Value())

	err = m.Set("aperture")
	assert.ErrorIs(t, err, errors.ErrValidation)
	assert.Equal(t, "auto", m.Value())

	m.Decrease()
	assert.Equal(t, "auto", m.Value(), "first option stays")

	require.NoError(t, m.SetIndex(2))
	m.Increase()
	assert.Equal(t, "shutter", m.Value(), "last option stays")

	assert.ErrorIs(t, m.SetIndex(3), errors.ErrValidation)
	assert.ErrorIs(t, m.SetIndex(-1), errors.ErrValidation)

	_, err = NewMenu("empty", nil, "")
	assert.ErrorIs(t, err, errors.ErrValidation)
	_, err = NewMenu("dup", []string{"a", "a"}, "a")
	assert.ErrorIs(t, err, errors.ErrValidation)
	_, err = NewMenu("missing", []string{"a"}, "b")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestComposite_Lookup(t *testing.T) {
	root, err := NewComposite("camera")
	require.NoError(t, err)
	exposure, err := NewComposite("exposure")
	require.NoError(t, err)
	auto, err := NewBoolean("auto", true)
	require.NoError(t, err)
	gain, err := NewInteger("gain", 0, 10, 1, 0)
	require.NoError(t, err)

	require.NoError(t, exposure.Add(auto))
	require.NoError(t, root.Add(exposure))
	require.NoError(t, root.Add(gain))

	assert.Equal(t, "camera.exposure.auto", auto.Name())
	assert.Equal(t, "camera.gain", gain.Name())
	assert.Same(t, root, gain.Parent())

	got, ok := root.Child("gain")
	require.True(t, ok)
	assert.Same(t, gain, got)

	for _, name := range []string{"", "Gain", "gai", "gain ", "camera.gain", "exposure.auto"} {
		c, ok := root.Child(name)
		assert.False(t, ok, "Child(%q)", name)
		assert.Nil(t, c)
	}

	found, ok := root.Find("exposure.auto")
	require.True(t, ok)
	assert.Same(t, auto, found)
	_, ok = root.Find("gain.auto")
	assert.False(t, ok)
	_, ok = root.Find("")
	assert.False(t, ok)

	var names []string
	require.NoError(t, root.Walk(func(c Control) error {
		names = append(names, c.Name())
		return nil
	}))
	if diff := cmp.Diff([]string{"camera.exposure", "camera.exposure.auto", "camera.gain"}, names); diff != "" {
		t.Errorf("walk order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, root.Len())
}

func TestComposite_AddRejects(t *testing.T) {
	root, _ := NewComposite("root")
	other, _ := NewComposite("other")
	gain, _ := NewInteger("gain", 0, 10, 1, 0)
	gain2, _ := NewInteger("gain", 0, 10, 1, 0)

	require.NoError(t, root.Add(gain))
	assert.ErrorIs(t, root.Add(gain2), errors.ErrResourceConflict, "duplicate sibling name")
	assert.ErrorIs(t, other.Add(gain), errors.ErrResourceConflict, "already attached")
	assert.ErrorIs(t, root.Add(nil), errors.ErrValidation)

	require.NoError(t, root.Add(other))
	assert.ErrorIs(t, other.Add(root), errors.ErrValidation, "cycle")
	assert.ErrorIs(t, root.Add(root), errors.ErrValidation, "self")
}

func TestApply_WrongType(t *testing.T) {
	gain, _ := NewInteger("gain", 0, 10, 1, 5)
	mode, _ := NewMenu("mode", []string{"a", "b"}, "a")
	flip, _ := NewBoolean("flip", false)
	group, _ := NewComposite("group")

	assert.ErrorIs(t, Apply(gain, SetIndex(1)), errors.ErrUnsupportedOperation)
	assert.ErrorIs(t, Apply(flip, Increase()), errors.ErrUnsupportedOperation)
	assert.ErrorIs(t, Apply(group, Reset()), errors.ErrUnsupportedOperation)
	assert.ErrorIs(t, Apply(gain, Set(property.String("loud"))), errors.ErrUnsupportedOperation)

	_, err := Options(gain)
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)
	_, err = ValueOf(group)
	assert.ErrorIs(t, err, errors.ErrUnsupportedOperation)
	assert.Equal(t, int64(5), gain.Value())

	require.NoError(t, Apply(mode, SetIndex(1)))
	opts, err := Options(mode)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, opts)

	require.NoError(t, Apply(gain, Increase()))
	require.NoError(t, Apply(flip, Set(property.Bool(true))))
	v, err := ValueOf(flip)
	require.NoError(t, err)
	assert.True(t, v.Equal(property.Bool(true)))
	assert.Equal(t, int64(6), gain.Value())
}

func TestPush_CommitsThenParent(t *testing.T) {
	dev := newRecordingSync()
	root, _ := NewComposite("camera", WithSynchronizer(dev))
	exposure, _ := NewComposite("exposure")
	level, _ := NewInteger("level", 0, 100, 10, 20)
	require.NoError(t, exposure.Add(level))
	require.NoError(t, root.Add(exposure))

	require.NoError(t, level.Set(40))
	require.NoError(t, level.Push(context.Background()))

	want := []string{"camera.exposure.level", "camera.exposure", "camera"}
	if diff := cmp.Diff(want, dev.log()); diff != "" {
		t.Errorf("push order mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, dev.values["camera.exposure.level"].Equal(property.Int(40)))
}

func TestPull_RefreshesFromSynchronizer(t *testing.T) {
	dev := newRecordingSync()
	dev.device["cam.mode"] = property.String("night")
	dev.device["cam.gain"] = property.Int(7)

	root, _ := NewComposite("cam", WithSynchronizer(dev))
	mode, _ := NewMenu("mode", []string{"day", "night"}, "day")
	gain, _ := NewInteger("gain", 0, 10, 2, 0)
	require.NoError(t, root.Add(mode))
	require.NoError(t, root.Add(gain))

	require.NoError(t, mode.Pull(context.Background()))
	assert.Equal(t, "night", mode.Value())

	err := gain.Pull(context.Background())
	assert.ErrorIs(t, err, errors.ErrValidation, "7 is off the step grid")
	assert.Equal(t, int64(0), gain.Value())
}

func TestPush_WithoutSynchronizer(t *testing.T) {
	gain, _ := NewInteger("gain", 0, 10, 1, 0)
	assert.NoError(t, gain.Push(context.Background()))
	assert.NoError(t, gain.Pull(context.Background()))
}

func TestPush_Timeout(t *testing.T) {
	dev := newRecordingSync()
	dev.block = true
	registry := metric.NewMetricsRegistry()
	root, _ := NewComposite("cam",
		WithSynchronizer(dev), WithTimeout(10*time.Millisecond), WithMetrics(registry.CoreMetrics()))
	gain, _ := NewInteger("gain", 0, 10, 1, 0)
	require.NoError(t, root.Add(gain))

	start := time.Now()
	err := gain.Push(context.Background())
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.True(t, errors.IsTransient(err))
	assert.Less(t, time.Since(start), time.Second)

	err = gain.Pull(context.Background())
	assert.ErrorIs(t, err, errors.ErrTimeout)

	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().ControlSyncs.WithLabelValues("push", "timeout")))
}

func TestPush_CallerCancel(t *testing.T) {
	dev := newRecordingSync()
	dev.block = true
	root, _ := NewComposite("cam", WithSynchronizer(dev))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := root.Push(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errors.ErrTimeout)
}

func TestPush_DeviceFault(t *testing.T) {
	dev := newRecordingSync()
	dev.failWith = stderrors.New("ioctl failed")
	root, _ := NewComposite("cam", WithSynchronizer(dev))
	gain, _ := NewInteger("gain", 0, 10, 1, 0)
	require.NoError(t, root.Add(gain))

	err := gain.Push(context.Background())
	assert.ErrorIs(t, err, errors.ErrExternalFault)
	assert.Contains(t, err.Error(), "ioctl failed")
}

func TestConcurrentSetAndPush(t *testing.T) {
	dev := newRecordingSync()
	root, _ := NewComposite("cam", WithSynchronizer(dev))
	gain, _ := NewInteger("gain", 0, 1000, 1, 0)
	require.NoError(t, root.Add(gain))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(v int64) {
			defer wg.Done()
			assert.NoError(t, gain.Set(v))
		}(int64(i))
		go func() {
			defer wg.Done()
			assert.NoError(t, gain.Push(context.Background()))
		}()
	}
	wg.Wait()
	assert.Len(t, dev.log(), 16)
}
