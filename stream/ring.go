package stream

import "math"

// ring holds the available window. A fixed ring wraps around its backing
// array; an unbounded one grows and compacts.
type ring struct {
	buf   []byte
	head  int
	n     int
	fixed bool
}

func newRing(capacity int) *ring {
	if capacity > 0 {
		return &ring{buf: make([]byte, capacity), fixed: true}
	}
	return &ring{}
}

func (r *ring) len() int { return r.n }

func (r *ring) free() int {
	if !r.fixed {
		return math.MaxInt
	}
	return len(r.buf) - r.n
}

// write appends p; the caller has checked free.
func (r *ring) write(p []byte) {
	if !r.fixed {
		// Compaction moves the live bytes to a fresh array; the old one
		// stays with any view still holding it.
		if r.head > 0 && r.head >= len(r.buf)/2 {
			nb := make([]byte, r.n, 2*(r.n+len(p)))
			copy(nb, r.buf[r.head:r.head+r.n])
			r.buf = nb
			r.head = 0
		}
		r.buf = append(r.buf[:r.head+r.n], p...)
		r.n += len(p)
		return
	}
	tail := (r.head + r.n) % len(r.buf)
	k := copy(r.buf[tail:], p)
	copy(r.buf, p[k:])
	r.n += len(p)
}

// reserve returns the next size free bytes for a caller to fill in place,
// if they do not wrap. An unbounded ring moves its live bytes to a larger
// array when the tail lacks room.
func (r *ring) reserve(size int) ([]byte, bool) {
	if r.fixed {
		tail := (r.head + r.n) % len(r.buf)
		if tail+size > len(r.buf) {
			return nil, false
		}
		return r.buf[tail : tail+size : tail+size], true
	}
	if cap(r.buf)-(r.head+r.n) < size {
		nb := make([]byte, r.n, 2*(r.n+size))
		copy(nb, r.buf[r.head:r.head+r.n])
		r.buf = nb
		r.head = 0
	}
	full := r.buf[:cap(r.buf)]
	tail := r.head + r.n
	return full[tail : tail+size : tail+size], true
}

// tailSlot is the address the next written byte lands at, or nil when the
// backing array has no room there.
func (r *ring) tailSlot() *byte {
	if r.fixed {
		return &r.buf[(r.head+r.n)%len(r.buf)]
	}
	full := r.buf[:cap(r.buf)]
	if tail := r.head + r.n; tail < len(full) {
		return &full[tail]
	}
	return nil
}

// commit appends p. When p is the region reserve handed out and the ring
// has not moved since, the bytes are already in place.
func (r *ring) commit(p []byte) {
	if len(p) == 0 {
		return
	}
	if r.tailSlot() != &p[0] {
		r.write(p)
		return
	}
	if !r.fixed {
		r.buf = r.buf[:r.head+r.n+len(p)]
	}
	r.n += len(p)
}

// view returns bytes [off, off+n) of the window without copying, if they
// do not wrap.
func (r *ring) view(off, n int) ([]byte, bool) {
	start := r.head + off
	if r.fixed {
		start %= len(r.buf)
		if start+n > len(r.buf) {
			return nil, false
		}
	}
	return r.buf[start : start+n : start+n], true
}

// copyOut fills dst from window offset off.
func (r *ring) copyOut(dst []byte, off int) {
	if !r.fixed {
		copy(dst, r.buf[r.head+off:])
		return
	}
	start := (r.head + off) % len(r.buf)
	k := copy(dst, r.buf[start:])
	copy(dst[k:], r.buf)
}

// discard drops k bytes from the front.
func (r *ring) discard(k int) {
	r.n -= k
	if r.n == 0 {
		r.head = 0
		if !r.fixed {
			r.buf = r.buf[:0]
		}
		return
	}
	r.head += k
	if r.fixed {
		r.head %= len(r.buf)
	}
}
