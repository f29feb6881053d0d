// Package ring implements the single-producer/single-consumer byte
// ring each capture lane writes framed records into.
package ring

import (
	"encoding/binary"
	"sync/atomic"
)

const (
	cacheLinePad = 56
	headerSize   = 4 // uint32 LE record length prefix
)

// Ring is a fixed-capacity SPSC byte ring. Capacity is rounded up to a
// power of two. Writes are framed (length-prefixed) and either succeed
// whole or fail closed — a record is never partially written. One byte
// of capacity is always left unused so head==tail is an unambiguous
// empty state.
type Ring struct {
	buf  []byte
	mask uint64

	// tail is producer-owned; head is consumer-owned. Padding keeps
	// each cursor on its own cache line so the producer and the drain
	// worker don't false-share.
	tail atomic.Uint64
	_    [cacheLinePad]byte
	head atomic.Uint64
	_    [cacheLinePad]byte
}

// New creates a ring with at least the requested byte capacity.
func New(capacity uint32) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	cap2 := uint64(1)
	for cap2 < uint64(capacity) {
		cap2 <<= 1
	}
	return &Ring{
		buf:  make([]byte, cap2),
		mask: cap2 - 1,
	}
}

// Capacity returns the usable byte capacity (buffer size minus one).
func (r *Ring) Capacity() int {
	return len(r.buf) - 1
}

func (r *Ring) used(tail, head uint64) uint64 {
	return tail - head
}

// Write appends a single framed record. Returns false without writing
// anything if the record does not fit in the currently free space.
func (r *Ring) Write(p []byte) bool {
	need := uint64(headerSize + len(p))
	capacity := uint64(len(r.buf))
	if need > capacity-1 {
		return false // can never fit, even empty
	}

	tail := r.tail.Load()
	head := r.head.Load()
	free := capacity - 1 - r.used(tail, head)
	if need > free {
		return false
	}

	r.putUint32At(tail, uint32(len(p)))
	r.copyInAt(tail+headerSize, p)
	r.tail.Store(tail + need)
	return true
}

// putUint32At writes a little-endian uint32 starting at ring offset
// pos mod capacity, handling the case where it straddles the wrap
// point.
func (r *Ring) putUint32At(pos uint64, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	r.copyInAt(pos, tmp[:])
}

func (r *Ring) copyInAt(pos uint64, p []byte) {
	n := uint64(len(r.buf))
	off := pos & r.mask
	first := n - off
	if first >= uint64(len(p)) {
		copy(r.buf[off:], p)
		return
	}
	copy(r.buf[off:], p[:first])
	copy(r.buf[0:], p[first:])
}

func (r *Ring) copyOutAt(pos uint64, dst []byte) {
	n := uint64(len(r.buf))
	off := pos & r.mask
	first := n - off
	if first >= uint64(len(dst)) {
		copy(dst, r.buf[off:off+uint64(len(dst))])
		return
	}
	copy(dst, r.buf[off:])
	copy(dst[first:], r.buf[0:uint64(len(dst))-first])
}

// ReadNext copies the oldest unread record into dst and advances the
// read cursor. Returns the record length and true on success; false if
// the ring is empty or dst is too small to hold the record (in which
// case nothing is consumed).
func (r *Ring) ReadNext(dst []byte) (int, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if r.used(tail, head) < headerSize {
		return 0, false
	}

	var lenBuf [4]byte
	r.copyOutAt(head, lenBuf[:])
	recLen := binary.LittleEndian.Uint32(lenBuf[:])

	if r.used(tail, head) < uint64(headerSize)+uint64(recLen) {
		return 0, false // torn read guard, should not happen under correct producer use
	}
	if uint64(len(dst)) < uint64(recLen) {
		return int(recLen), false
	}

	r.copyOutAt(head+headerSize, dst[:recLen])
	r.head.Store(head + headerSize + uint64(recLen))
	return int(recLen), true
}

// Len returns the number of unread bytes currently buffered, including
// framing overhead.
func (r *Ring) Len() int {
	return int(r.used(r.tail.Load(), r.head.Load()))
}

// IsEmpty reports whether the ring currently holds no records.
func (r *Ring) IsEmpty() bool {
	return r.tail.Load() == r.head.Load()
}

// Reset rewinds both cursors to zero. Only safe to call when neither
// the producer nor the consumer holds a reference to the ring, i.e.
// while it sits in a lane's free queue.
func (r *Ring) Reset() {
	r.tail.Store(0)
	r.head.Store(0)
}
