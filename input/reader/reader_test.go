package reader

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
	"github.com/c360/mediaflow/stream"
	"github.com/c360/mediaflow/stream/file"
	"github.com/c360/mediaflow/stream/memory"
)

var deps = component.Dependencies{NegotiationTimeout: time.Second}

func memoryStreams(t *testing.T, uri string, content []byte) *stream.Registry {
	t.Helper()
	streams := stream.NewRegistry(deps)
	require.NoError(t, streams.Register(memory.NewProvider(deps, stream.DefaultSettings(), memory.WithRetain(true))))
	w, err := streams.Create(uri)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.CloseWrite())
	t.Cleanup(func() { _ = streams.Close() })
	return streams
}

func newReader(t *testing.T, streams *stream.Registry, path string, props map[string]property.Value) *Reader {
	t.Helper()
	c, err := Factory(streams)("clip", path, deps)
	require.NoError(t, err)
	r := c.(*Reader)
	if props != nil {
		require.NoError(t, r.Configure(props))
	}
	return r
}

func TestReaderLifecycle(t *testing.T) {
	streams := memoryStreams(t, "mem:clip", []byte("frames"))
	component.StandardLifecycleTests(t, func(t *testing.T) component.Component {
		return newReader(t, streams, "", map[string]property.Value{"uri": property.String("mem:clip")})
	})
}

func TestLoadRequiresURI(t *testing.T) {
	streams := memoryStreams(t, "mem:clip", nil)
	r := newReader(t, streams, "", nil)
	err := r.SetState(context.Background(), component.StateLoaded)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	assert.Equal(t, component.StateUnloaded, r.State())

	r = newReader(t, streams, "", map[string]property.Value{"uri": property.String("mem:absent")})
	err = r.SetState(context.Background(), component.StateLoaded)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestConfigure(t *testing.T) {
	streams := memoryStreams(t, "mem:clip", nil)
	r := newReader(t, streams, "", map[string]property.Value{
		"uri":        property.String("mem:clip"),
		"mime":       property.String("video/x-raw"),
		"chunk_size": property.Int(512),
		"buffers":    property.Int(2),
	})
	out, _ := r.Port(0)
	assert.Equal(t, "video/x-raw", out.MIME())
	assert.Equal(t, 512, out.BufferSize())
	assert.Equal(t, 2, out.MinBuffers())

	assert.ErrorIs(t, r.Configure(map[string]property.Value{"chunk_size": property.Int(0)}), errors.ErrInvalidConfig)
	assert.ErrorIs(t, r.Configure(map[string]property.Value{"loop": property.Bool(true)}), errors.ErrInvalidConfig)
}

func TestFactoryBindsPath(t *testing.T) {
	streams := memoryStreams(t, "mem:clip", nil)
	r := newReader(t, streams, "media/cam0.raw", nil)
	assert.Equal(t, "file:media/cam0.raw", r.Config().URI)
}

// collect runs r against a bare consumer and returns everything it sent.
func collect(t *testing.T, r *Reader) []byte {
	t.Helper()
	sink, err := component.NewBase(component.Config{Name: "drain", Roles: []component.Role{component.RoleSink}}, deps)
	require.NoError(t, err)
	in, err := sink.AddPort(component.PortConfig{Index: 0, Direction: component.DirectionInput, MinBuffers: 1, BufferSize: 1})
	require.NoError(t, err)
	out, _ := r.Port(0)
	_, err = component.Connect(out, in)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var g errgroup.Group
	g.Go(func() error { return r.SetState(ctx, component.StateExecuting) })
	g.Go(func() error { return sink.SetState(ctx, component.StateExecuting) })
	require.NoError(t, g.Wait())

	var got bytes.Buffer
	for {
		h, err := in.Receive(ctx)
		require.NoError(t, err)
		payload, meta, err := in.Payload(h)
		require.NoError(t, err)
		got.Write(payload)
		require.NoError(t, in.Release(h))
		if meta.Last {
			break
		}
	}
	select {
	case <-r.Finished():
	case <-ctx.Done():
		t.Fatal("reader did not finish")
	}
	require.NoError(t, r.SetState(ctx, component.StateIdle))
	require.NoError(t, sink.SetState(ctx, component.StateIdle))
	require.NoError(t, r.SetState(ctx, component.StateUnloaded))
	return got.Bytes()
}

func TestReaderCopiesMemoryContent(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 100)
	streams := memoryStreams(t, "mem:clip", content)
	r := newReader(t, streams, "", map[string]property.Value{
		"uri":        property.String("mem:clip"),
		"chunk_size": property.Int(64),
		"buffers":    property.Int(2),
	})

	assert.Equal(t, content, collect(t, r))
	stats := r.Stats()
	assert.Equal(t, int64(len(content)), stats.Bytes)
	assert.Equal(t, int64(16), stats.Buffers, "1000 bytes in 64-byte chunks")
}

func TestReaderReadsBoundFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "media", "cam0.raw"), []byte("raw frame data"), 0o600))

	streams := stream.NewRegistry(deps)
	fp, err := file.NewProvider(root, deps, stream.DefaultSettings())
	require.NoError(t, err)
	require.NoError(t, streams.Register(fp))

	r := newReader(t, streams, "media/cam0.raw", nil)
	assert.Equal(t, "raw frame data", string(collect(t, r)))
}

func TestReaderEmptyContent(t *testing.T) {
	streams := memoryStreams(t, "mem:empty", nil)
	r := newReader(t, streams, "", map[string]property.Value{"uri": property.String("mem:empty")})
	assert.Empty(t, collect(t, r))
}
