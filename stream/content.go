package stream

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/c360/mediaflow/component"
	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/metric"
	"github.com/c360/mediaflow/pkg/property"
	"github.com/c360/mediaflow/pkg/worker"
)

var handleSeq atomic.Uint64

// Options describe one piece of content.
type Options struct {
	Scheme   string
	URI      string
	Settings Settings
	// Retain keeps everything written; otherwise bytes every reader has
	// consumed are discarded and the window start advances.
	Retain bool
	// Initial is preloaded content.
	Initial []byte
	// Base is the absolute offset of the first byte, for appending to
	// content that already exists elsewhere.
	Base int64
	// Finished marks the content complete from the start.
	Finished bool
	// Sink receives every accepted write before it becomes readable.
	Sink io.Writer
	// WriteThrough sends writes to Sink only; nothing becomes readable.
	WriteThrough bool
}

// Content is the shared state behind the streams opened on one URI. Each
// Open returns an independent handle with its own cursor, callbacks and
// properties.
type Content struct {
	scheme   string
	uri      string
	opts     Options
	logger   *slog.Logger
	metrics  *metric.Metrics
	registry *metric.MetricsRegistry

	mu      sync.Mutex
	data    *ring
	first   int64 // absolute offset of data[0]
	end     int64 // absolute end of everything written
	done    bool
	discErr error
	closed  bool
	writers int
	handles map[*Stream]struct{}

	// outstanding WriteBuffer reservation
	reserved *Buffer
}

// NewContent creates content from opts.
func NewContent(opts Options, deps component.Dependencies) *Content {
	opts.Settings = opts.Settings.withDefaults()
	c := &Content{
		scheme:   opts.Scheme,
		uri:      opts.URI,
		opts:     opts,
		logger:   deps.GetLoggerWithComponent("stream").With("uri", opts.URI),
		metrics:  deps.Metrics(),
		registry: deps.MetricsRegistry,
		first:    opts.Base,
		end:      opts.Base,
		done:     opts.Finished,
		handles:  make(map[*Stream]struct{}),
	}
	if !opts.WriteThrough {
		capacity := opts.Settings.Capacity
		if len(opts.Initial) > capacity && capacity > 0 {
			capacity = len(opts.Initial)
		}
		c.data = newRing(capacity)
		c.data.write(opts.Initial)
		c.end += int64(len(opts.Initial))
	}
	return c
}

// URI returns the content identifier.
func (c *Content) URI() string { return c.uri }

// Len returns the number of bytes currently available.
func (c *Content) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.end - c.first)
}

// Finished reports whether the end of content has been marked.
func (c *Content) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Open attaches a new handle. A writable handle reopens finished content for
// appending. onClose hooks run after the handle is detached, in order.
func (c *Content) Open(access Access, onClose ...func() error) (*Stream, error) {
	if access < AccessRead || access > AccessReadWrite {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Content", "Open",
			"%s: invalid access %s", c.uri, access)
	}
	if c.opts.WriteThrough && access.Readable() {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrAccessViolation, "Content", "Open",
			"%s is write-only", c.uri)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrClosed, "Content", "Open", "%s is closed", c.uri)
	}
	s := &Stream{
		content: c,
		access:  access,
		props:   property.NewBag(),
		notify:  c.newNotifier(),
		pos:     c.first,
		buffers: make(map[*Buffer]struct{}),
		onClose: onClose,
	}
	if !access.Readable() {
		s.pos = c.end
	}
	if access.Writable() {
		c.writers++
		c.done = false
	}
	c.handles[s] = struct{}{}
	c.metrics.RecordStreamOpen(c.scheme, 1)
	c.logger.Debug("stream opened", "access", access)
	return s, nil
}

// newNotifier starts the callback worker of one handle. Its pool metrics are
// exported as "stream_<scheme>_<n>" and go away when the handle closes.
func (c *Content) newNotifier() *notifier {
	var opts []worker.Option[delivery]
	if c.registry != nil {
		prefix := fmt.Sprintf("stream_%s_%d", c.scheme, handleSeq.Add(1))
		opts = append(opts, worker.WithMetricsRegistry[delivery](c.registry, prefix))
	}
	return newNotifier(c.scheme, c.opts.Settings.NotifyQueue, c.logger, c.metrics, opts...)
}

// Disconnect reports abnormal termination of the underlying transport to
// every handle. Buffered bytes stay readable; writes fail.
func (c *Content) Disconnect(cause error) {
	c.mu.Lock()
	if c.discErr != nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.discErr = errors.WrapTransient(cause, "Content", "Disconnect", c.uri)
	pending := make(map[*Stream][]delivery, len(c.handles))
	for s := range c.handles {
		pending[s] = s.notify.onDisconnect(c.discErr, nil)
		s.notify.reset()
	}
	c.mu.Unlock()

	c.logger.Warn("stream disconnected", "error", cause)
	for s, ds := range pending {
		s.notify.dispatch(ds)
	}
}

// Close closes every handle and refuses new ones.
func (c *Content) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handles := make([]*Stream, 0, len(c.handles))
	for s := range c.handles {
		handles = append(handles, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range handles {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// finishLocked marks end of content and collects EOS callbacks.
func (c *Content) finishLocked() map[*Stream][]delivery {
	if c.done {
		return nil
	}
	c.done = true
	pending := make(map[*Stream][]delivery, len(c.handles))
	for s := range c.handles {
		pending[s] = s.notify.onEOS(nil)
		// waiters for more than will ever arrive re-check
		s.notify.wakeReads()
	}
	return pending
}

// signalLocked collects readiness callbacks after the window changed.
func (c *Content) signalLocked() map[*Stream][]delivery {
	pending := make(map[*Stream][]delivery, len(c.handles))
	for s := range c.handles {
		var ds []delivery
		if s.access.Readable() {
			ds = s.notify.onReadable(int(c.end-s.pos), ds)
		}
		if s.access.Writable() {
			ds = s.notify.onWritable(c.freeLocked(), ds)
		}
		if len(ds) > 0 {
			pending[s] = ds
		}
	}
	return pending
}

// appendLocked hands p to the sink, then makes it readable.
func (c *Content) appendLocked(method string, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if sink := c.opts.Sink; sink != nil {
		if _, err := sink.Write(p); err != nil {
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrExternalFault, err), "Stream", method, c.uri)
		}
	}
	c.end += int64(len(p))
	if c.data != nil {
		c.data.commit(p)
	} else {
		c.first = c.end
	}
	return nil
}

func (c *Content) freeLocked() int {
	if c.reserved != nil {
		return 0
	}
	if c.data == nil {
		return math.MaxInt
	}
	return c.data.free()
}

// trimLocked discards the prefix every open reader has consumed, unless
// content is retained or nobody reads.
func (c *Content) trimLocked() {
	if c.opts.Retain || c.data == nil {
		return
	}
	limit := int64(-1)
	for s := range c.handles {
		if !s.access.Readable() {
			continue
		}
		p := s.pinLocked()
		if limit < 0 || p < limit {
			limit = p
		}
	}
	if limit <= c.first {
		return
	}
	c.data.discard(int(limit - c.first))
	c.first = limit
}

func deliverAll(pending map[*Stream][]delivery) {
	for s, ds := range pending {
		if len(ds) > 0 {
			s.notify.dispatch(ds)
		}
	}
}
