package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360/mediaflow/errors"
	"github.com/c360/mediaflow/pkg/property"
)

// Access is the mode a stream was opened with.
type Access int

const (
	AccessRead Access = iota + 1
	AccessWrite
	AccessReadWrite
)

// Readable reports whether the mode allows reading.
func (a Access) Readable() bool { return a == AccessRead || a == AccessReadWrite }

// Writable reports whether the mode allows writing.
func (a Access) Writable() bool { return a == AccessWrite || a == AccessReadWrite }

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "read_write"
	default:
		return fmt.Sprintf("access(%d)", int(a))
	}
}

// ParseAccess accepts the String forms, case-insensitively.
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(s) {
	case "read", "r":
		return AccessRead, nil
	case "write", "w":
		return AccessWrite, nil
	case "read_write", "readwrite", "rw":
		return AccessReadWrite, nil
	}
	return 0, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "stream", "ParseAccess",
		"unknown access mode %q", s)
}

// Origin is a seek reference point.
type Origin int

const (
	// OriginStart is absolute offset zero.
	OriginStart Origin = iota
	// OriginEnd is the end of everything written so far.
	OriginEnd
	// OriginFirst is the oldest byte still available.
	OriginFirst
	// OriginLast is the end of the available window.
	OriginLast
	// OriginCurrent is the read cursor.
	OriginCurrent
)

func (o Origin) String() string {
	switch o {
	case OriginStart:
		return "start"
	case OriginEnd:
		return "end"
	case OriginFirst:
		return "first"
	case OriginLast:
		return "last"
	case OriginCurrent:
		return "current"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// ContentStream is a buffered byte channel with windowed seeking and
// readiness callbacks.
//
// Callbacks run on a notification goroutine owned by the stream, one at a
// time in registration order. A callback that blocks delays every later
// callback on the same stream.
type ContentStream interface {
	URI() string
	Access() Access

	// Position is the absolute read cursor. For write-only streams it is the
	// append point.
	Position() int64
	// Window returns the absolute bounds [first, last) of available content.
	Window() (first, last int64)
	SeekTo(origin Origin, offset int64) (int64, error)

	// ReadBuffer consumes length bytes. The result is a view into the stream
	// when the bytes are contiguous, otherwise a copy; with forbidCopy set a
	// copy is refused. Every buffer must be released.
	ReadBuffer(length int, forbidCopy bool) (*Buffer, error)
	ReleaseReadBuffer(buf *Buffer) error
	// WriteBuffer reserves size bytes at the append point for the caller to
	// fill. The result aliases stream storage when the free region is
	// contiguous, otherwise it is scratch memory copied in on release; with
	// forbidCopy set scratch memory is refused. One reservation may be
	// outstanding per content and Write waits it out with
	// errors.ErrResourceConflict.
	WriteBuffer(size int, forbidCopy bool) (*Buffer, error)
	// ReleaseWriteBuffer appends the reserved bytes, up to any Truncate.
	ReleaseWriteBuffer(buf *Buffer) error
	// Read copies available bytes, waiting up to the readiness timeout for at
	// least one. It returns io.EOF once the writer has finished and
	// everything has been read.
	Read(p []byte) (int, error)
	// Write appends all of p or nothing.
	Write(p []byte) (int, error)
	// CloseWrite marks the end of content.
	CloseWrite() error

	OnBytesAvailableToRead(n int, cb func(ContentStream)) ContentStream
	OnBytesAvailableToWrite(n int, cb func(ContentStream)) ContentStream
	OnEOS(cb func(ContentStream)) ContentStream
	OnDisconnect(cb func(ContentStream, error)) ContentStream

	WaitReadable(ctx context.Context, n int) error
	WaitWritable(ctx context.Context, n int) error

	Property(key string) (property.Value, error)
	SetProperty(key string, v property.Value) (property.Value, bool)

	// Close is idempotent. Later operations fail with errors.ErrClosed.
	Close() error
}

// Buffer is a block handed out by ReadBuffer or WriteBuffer.
type Buffer struct {
	data   []byte
	offset int64
	view   bool
	write  bool
}

// Bytes returns the content. A view must not be retained past release.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Offset returns the absolute position of the first byte.
func (b *Buffer) Offset() int64 { return b.offset }

// View reports whether the buffer aliases stream storage.
func (b *Buffer) View() bool { return b.view }

// Truncate keeps the first n bytes of a write buffer; only those are
// appended on release.
func (b *Buffer) Truncate(n int) {
	if b.write && n >= 0 && n < len(b.data) {
		b.data = b.data[:n]
	}
}

// Settings configure streams created by providers.
type Settings struct {
	// Capacity bounds the available window in bytes; zero is unbounded.
	Capacity int `json:"capacity" yaml:"capacity"`
	// NotifyQueue is the callback queue length per stream.
	NotifyQueue int `json:"notify_queue" yaml:"notify_queue"`
	// ReadyTimeout bounds WaitReadable, WaitWritable and Read.
	ReadyTimeout time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
}

// Default settings.
const (
	DefaultCapacity     = 1 << 20
	DefaultNotifyQueue  = 64
	DefaultReadyTimeout = 5 * time.Second
)

// DefaultSettings returns the defaults.
func DefaultSettings() Settings {
	return Settings{
		Capacity:     DefaultCapacity,
		NotifyQueue:  DefaultNotifyQueue,
		ReadyTimeout: DefaultReadyTimeout,
	}
}

func (s Settings) withDefaults() Settings {
	if s.Capacity < 0 {
		s.Capacity = 0
	}
	if s.NotifyQueue <= 0 {
		s.NotifyQueue = DefaultNotifyQueue
	}
	if s.ReadyTimeout <= 0 {
		s.ReadyTimeout = DefaultReadyTimeout
	}
	return s
}
