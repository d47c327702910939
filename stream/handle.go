package stream

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
)

// Stream is one handle on a Content.
type Stream struct {
	content *Content
	access  Access
	props   *property.Bag
	notify  *notifier
	onClose []func() error

	// guarded by content.mu
	pos     int64
	buffers map[*Buffer]struct{}
	closed  bool
}

var _ ContentStream = (*Stream)(nil)

// URI returns the content identifier.
func (s *Stream) URI() string { return s.content.uri }

// Access returns the mode the stream was opened with.
func (s *Stream) Access() Access { return s.access }

// Position returns the absolute cursor.
func (s *Stream) Position() int64 {
	c := s.content
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.access.Readable() {
		return c.end
	}
	return s.pos
}

// Window returns the bounds of the available content.
func (s *Stream) Window() (first, last int64) {
	c := s.content
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.first, c.end
}

func (s *Stream) checkLocked(method string, allowed func(Access) bool) error {
	if s.closed {
		return errors.Newf(errors.ErrorInvalid, errors.ErrClosed, "Stream", method, "%s is closed", s.content.uri)
	}
	if allowed != nil && !allowed(s.access) {
		return errors.Newf(errors.ErrorInvalid, errors.ErrAccessViolation, "Stream", method,
			"%s opened for %s", s.content.uri, s.access)
	}
	return nil
}

// pinLocked is the oldest offset this handle still needs.
func (s *Stream) pinLocked() int64 {
	p := s.pos
	for b := range s.buffers {
		if b.view && !b.write && b.offset < p {
			p = b.offset
		}
	}
	return p
}

// SeekTo moves the read cursor to offset relative to origin. The target
// must lie inside the available window.
func (s *Stream) SeekTo(origin Origin, offset int64) (int64, error) {
	c := s.content
	c.mu.Lock()
	if err := s.checkLocked("SeekTo", Access.Readable); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	var base int64
	switch origin {
	case OriginStart:
		base = 0
	case OriginEnd, OriginLast:
		base = c.end
	case OriginFirst:
		base = c.first
	case OriginCurrent:
		base = s.pos
	default:
		c.mu.Unlock()
		return 0, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Stream", "SeekTo", "unknown origin %s", origin)
	}
	target := base + offset
	if target < c.first || target > c.end {
		first, last := c.first, c.end
		c.mu.Unlock()
		return 0, errors.Newf(errors.ErrorInvalid, errors.ErrOutOfWindow, "Stream", "SeekTo",
			"%s%+d = %d not in [%d, %d]", origin, offset, target, first, last)
	}
	s.pos = target
	c.trimLocked()
	pending := c.signalLocked()
	c.mu.Unlock()

	deliverAll(pending)
	return target, nil
}

// ReadBuffer consumes length bytes from the cursor.
func (s *Stream) ReadBuffer(length int, forbidCopy bool) (*Buffer, error) {
	if length <= 0 {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Stream", "ReadBuffer",
			"length %d must be positive", length)
	}
	c := s.content
	c.mu.Lock()
	if err := s.checkLocked("ReadBuffer", Access.Readable); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if avail := c.end - s.pos; int64(length) > avail {
		c.mu.Unlock()
		return nil, errors.Newf(errors.ErrorTransient, errors.ErrCapacityUnderflow, "Stream", "ReadBuffer",
			"%d bytes requested, %d available", length, avail)
	}

	off := int(s.pos - c.first)
	buf := &Buffer{offset: s.pos}
	if view, ok := c.data.view(off, length); ok {
		buf.data, buf.view = view, true
	} else if forbidCopy {
		c.mu.Unlock()
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrUnsupportedOperation, "Stream", "ReadBuffer",
			"%d bytes at %d wrap the ring and cannot be viewed", length, buf.offset)
	} else {
		buf.data = make([]byte, length)
		c.data.copyOut(buf.data, off)
	}
	s.buffers[buf] = struct{}{}
	s.pos += int64(length)
	c.trimLocked()
	pending := c.signalLocked()
	c.mu.Unlock()

	deliverAll(pending)
	c.metrics.RecordStreamBytes(c.scheme, "read", length)
	return buf, nil
}

// ReleaseReadBuffer returns a buffer obtained from ReadBuffer.
func (s *Stream) ReleaseReadBuffer(buf *Buffer) error {
	c := s.content
	c.mu.Lock()
	if err := s.checkLocked("ReleaseReadBuffer", nil); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := s.buffers[buf]; !ok || buf == nil || buf.write {
		c.mu.Unlock()
		return errors.Newf(errors.ErrorInvalid, errors.ErrNotOwner, "Stream", "ReleaseReadBuffer",
			"buffer was not issued by this stream or is already released")
	}
	delete(s.buffers, buf)
	buf.data = nil
	c.trimLocked()
	pending := c.signalLocked()
	c.mu.Unlock()

	deliverAll(pending)
	return nil
}

// writableLocked rejects writes after end of content or a disconnect.
func (s *Stream) writableLocked(method string) error {
	c := s.content
	if err := s.checkLocked(method, Access.Writable); err != nil {
		return err
	}
	if c.discErr != nil {
		return c.discErr
	}
	if c.done {
		return errors.Newf(errors.ErrorInvalid, errors.ErrClosed, "Stream", method,
			"%s: end of content already marked", c.uri)
	}
	return nil
}

// WriteBuffer reserves size bytes at the append point.
func (s *Stream) WriteBuffer(size int, forbidCopy bool) (*Buffer, error) {
	if size <= 0 {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Stream", "WriteBuffer",
			"size %d must be positive", size)
	}
	c := s.content
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.writableLocked("WriteBuffer"); err != nil {
		return nil, err
	}
	if c.reserved != nil {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "Stream", "WriteBuffer",
			"%s: a write buffer is already outstanding", c.uri)
	}
	if free := c.freeLocked(); size > free {
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrCapacityOverflow, "Stream", "WriteBuffer",
			"%d bytes do not fit, %d free", size, free)
	}

	buf := &Buffer{offset: c.end, write: true}
	var view []byte
	ok := false
	// A sink sees every write before readers do, so its bytes go through
	// scratch memory.
	if c.data != nil && c.opts.Sink == nil {
		view, ok = c.data.reserve(size)
	}
	switch {
	case ok:
		buf.data, buf.view = view, true
	case forbidCopy:
		return nil, errors.Newf(errors.ErrorInvalid, errors.ErrUnsupportedOperation, "Stream", "WriteBuffer",
			"%d bytes at %d cannot be reserved in place", size, buf.offset)
	default:
		buf.data = make([]byte, size)
	}
	s.buffers[buf] = struct{}{}
	c.reserved = buf
	return buf, nil
}

// ReleaseWriteBuffer appends what buf holds and ends the reservation. If the
// content was finished or disconnected meanwhile the bytes are dropped.
func (s *Stream) ReleaseWriteBuffer(buf *Buffer) error {
	c := s.content
	c.mu.Lock()
	if err := s.checkLocked("ReleaseWriteBuffer", nil); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := s.buffers[buf]; !ok || buf == nil || !buf.write {
		c.mu.Unlock()
		return errors.Newf(errors.ErrorInvalid, errors.ErrNotOwner, "Stream", "ReleaseWriteBuffer",
			"buffer was not issued by this stream or is already released")
	}
	delete(s.buffers, buf)
	c.reserved = nil
	p := buf.data
	buf.data = nil
	if err := s.writableLocked("ReleaseWriteBuffer"); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.appendLocked("ReleaseWriteBuffer", p); err != nil {
		c.mu.Unlock()
		return err
	}
	pending := c.signalLocked()
	c.mu.Unlock()

	deliverAll(pending)
	c.metrics.RecordStreamBytes(c.scheme, "write", len(p))
	return nil
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c := s.content
	for {
		c.mu.Lock()
		if err := s.checkLocked("Read", Access.Readable); err != nil {
			c.mu.Unlock()
			return 0, err
		}
		if avail := c.end - s.pos; avail > 0 {
			n := int(min(int64(len(p)), avail))
			c.data.copyOut(p[:n], int(s.pos-c.first))
			s.pos += int64(n)
			c.trimLocked()
			pending := c.signalLocked()
			c.mu.Unlock()

			deliverAll(pending)
			c.metrics.RecordStreamBytes(c.scheme, "read", n)
			return n, nil
		}
		done, disc := c.done, c.discErr
		c.mu.Unlock()

		switch {
		case done:
			return 0, io.EOF
		case disc != nil:
			return 0, disc
		}
		if err := s.WaitReadable(context.Background(), 1); err != nil && !stderrors.Is(err, errors.ErrCapacityUnderflow) {
			return 0, err
		}
	}
}

// Write appends p entirely or fails with errors.ErrCapacityOverflow.
func (s *Stream) Write(p []byte) (int, error) {
	c := s.content
	c.mu.Lock()
	if err := s.writableLocked("Write"); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	if len(p) == 0 {
		c.mu.Unlock()
		return 0, nil
	}
	if c.reserved != nil {
		c.mu.Unlock()
		return 0, errors.Newf(errors.ErrorInvalid, errors.ErrResourceConflict, "Stream", "Write",
			"%s: a write buffer is outstanding", c.uri)
	}
	if c.data != nil && len(p) > c.data.free() {
		free := c.data.free()
		c.mu.Unlock()
		return 0, errors.Newf(errors.ErrorInvalid, errors.ErrCapacityOverflow, "Stream", "Write",
			"%d bytes do not fit, %d free", len(p), free)
	}
	if err := c.appendLocked("Write", p); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	pending := c.signalLocked()
	c.mu.Unlock()

	deliverAll(pending)
	c.metrics.RecordStreamBytes(c.scheme, "write", len(p))
	return len(p), nil
}

// CloseWrite marks the end of content. Readers get EOS once they have
// registered for it.
func (s *Stream) CloseWrite() error {
	c := s.content
	c.mu.Lock()
	if err := s.checkLocked("CloseWrite", Access.Writable); err != nil {
		c.mu.Unlock()
		return err
	}
	pending := c.finishLocked()
	c.mu.Unlock()

	deliverAll(pending)
	return nil
}

// OnBytesAvailableToRead calls cb once n bytes can be read.
func (s *Stream) OnBytesAvailableToRead(n int, cb func(ContentStream)) ContentStream {
	s.register(n, cb, true)
	return s
}

// OnBytesAvailableToWrite calls cb once n bytes can be written.
func (s *Stream) OnBytesAvailableToWrite(n int, cb func(ContentStream)) ContentStream {
	s.register(n, cb, false)
	return s
}

func (s *Stream) register(n int, cb func(ContentStream), read bool) {
	if cb == nil {
		return
	}
	c := s.content
	c.mu.Lock()
	allowed := Access.Writable
	if read {
		allowed = Access.Readable
	}
	if err := s.checkLocked("register", allowed); err != nil {
		c.mu.Unlock()
		c.logger.Debug("callback not registered", "error", err)
		return
	}
	t := threshold{n: max(n, 0), cb: func() { cb(s) }}
	event, ready := "write", t.n <= c.freeLocked()
	if read {
		event, ready = "read", int64(t.n) <= c.end-s.pos
	}
	switch {
	case ready:
	case read:
		s.notify.reads = append(s.notify.reads, t)
	default:
		s.notify.writes = append(s.notify.writes, t)
	}
	c.mu.Unlock()

	if ready {
		s.notify.dispatch([]delivery{{event: event, fn: t.cb}})
	}
}

// OnEOS calls cb once the end of content has been marked.
func (s *Stream) OnEOS(cb func(ContentStream)) ContentStream {
	if cb == nil {
		return s
	}
	c := s.content
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return s
	}
	fn := func() { cb(s) }
	var ds []delivery
	switch {
	case c.done && s.notify.eosFired:
		ds = []delivery{{event: "eos", fn: fn}}
	case c.done:
		s.notify.eos = append(s.notify.eos, fn)
		ds = s.notify.onEOS(nil)
	default:
		s.notify.eos = append(s.notify.eos, fn)
	}
	c.mu.Unlock()

	s.notify.dispatch(ds)
	return s
}

// OnDisconnect calls cb if the underlying transport fails.
func (s *Stream) OnDisconnect(cb func(ContentStream, error)) ContentStream {
	if cb == nil {
		return s
	}
	c := s.content
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return s
	}
	fn := func(err error) { cb(s, err) }
	var ds []delivery
	if c.discErr != nil {
		err := c.discErr
		ds = []delivery{{event: "disconnect", fn: func() { fn(err) }}}
	} else {
		s.notify.disconnect = append(s.notify.disconnect, fn)
	}
	c.mu.Unlock()

	s.notify.dispatch(ds)
	return s
}

// WaitReadable blocks until n bytes can be read, the readiness timeout
// expires (errors.ErrTimeout) or ctx ends. Once the end of content is marked
// and fewer than n bytes remain it fails with errors.ErrCapacityUnderflow.
func (s *Stream) WaitReadable(ctx context.Context, n int) error {
	return s.wait(ctx, "WaitReadable", n, true)
}

// WaitWritable blocks until n bytes can be written.
func (s *Stream) WaitWritable(ctx context.Context, n int) error {
	return s.wait(ctx, "WaitWritable", n, false)
}

func (s *Stream) wait(ctx context.Context, method string, n int, read bool) error {
	if n <= 0 {
		return errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Stream", method, "n %d must be positive", n)
	}
	c := s.content
	timeout := c.opts.Settings.ReadyTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		c.mu.Lock()
		ready, err := s.readyLocked(method, n, read)
		if ready || err != nil {
			c.mu.Unlock()
			return err
		}
		wake := make(chan struct{})
		var once sync.Once
		token := new(struct{})
		t := threshold{n: n, direct: true, token: token, cb: func() { once.Do(func() { close(wake) }) }}
		if read {
			s.notify.reads = append(s.notify.reads, t)
		} else {
			s.notify.writes = append(s.notify.writes, t)
		}
		c.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			s.forget(token)
			return errors.WrapTransient(ctx.Err(), "Stream", method, c.uri)
		case <-timer.C:
			s.forget(token)
			return errors.Newf(errors.ErrorTransient, errors.ErrTimeout, "Stream", method,
				"%s: %d bytes not ready within %s", c.uri, n, timeout)
		}
	}
}

func (s *Stream) readyLocked(method string, n int, read bool) (bool, error) {
	c := s.content
	if read {
		if err := s.checkLocked(method, Access.Readable); err != nil {
			return false, err
		}
		avail := c.end - s.pos
		switch {
		case int64(n) <= avail:
			return true, nil
		case c.done:
			return false, errors.Newf(errors.ErrorTransient, errors.ErrCapacityUnderflow, "Stream", method,
				"%s ended with %d bytes left, %d requested", c.uri, avail, n)
		case c.discErr != nil:
			return false, c.discErr
		}
		return false, nil
	}

	if err := s.checkLocked(method, Access.Writable); err != nil {
		return false, err
	}
	switch {
	case c.discErr != nil:
		return false, c.discErr
	case c.data != nil && c.data.fixed && n > len(c.data.buf):
		return false, errors.Newf(errors.ErrorInvalid, errors.ErrCapacityOverflow, "Stream", method,
			"%d bytes exceed capacity %d", n, len(c.data.buf))
	}
	return n <= c.freeLocked(), nil
}

func (s *Stream) forget(token *struct{}) {
	c := s.content
	c.mu.Lock()
	s.notify.remove(token)
	c.mu.Unlock()
}

// Property returns a stream property.
func (s *Stream) Property(key string) (property.Value, error) { return s.props.Get(key) }

// SetProperty stores a stream property and returns the previous value.
func (s *Stream) SetProperty(key string, v property.Value) (property.Value, bool) {
	return s.props.Set(key, v)
}

// Close detaches the handle, drops its buffers and callbacks and stops its
// notifier. Closing the last writer marks the end of content.
func (s *Stream) Close() error {
	c := s.content
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return nil
	}
	s.closed = true
	delete(c.handles, s)
	for b := range s.buffers {
		if b == c.reserved {
			c.reserved = nil
		}
		b.data = nil
	}
	s.buffers = nil
	s.notify.reset()
	var eos map[*Stream][]delivery
	if s.access.Writable() {
		c.writers--
		if c.writers == 0 {
			eos = c.finishLocked()
		}
	}
	c.trimLocked()
	pending := c.signalLocked()
	c.mu.Unlock()

	deliverAll(eos)
	deliverAll(pending)
	s.notify.stop()
	c.metrics.RecordStreamOpen(c.scheme, -1)
	c.logger.Debug("stream closed", "access", s.access)

	var errs []error
	for _, hook := range s.onClose {
		if err := hook(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		return errors.Wrap(err, "Stream", "Close", c.uri)
	}
	return nil
}
