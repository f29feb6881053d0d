package writer

import "sync"

// Buffer size thresholds, bucketed for event-frame payloads rather
// than the block-I/O transfer sizes this pattern was originally sized
// for. Event frames are index records (tens of bytes) or detail
// payloads capped at constants.DefaultMaxDetailPayload (64KB); the
// top bucket exists for selective-persistence window snapshots, which
// can span several detail records.
const (
	size4k   = 4 * 1024
	size16k  = 16 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
)

// bufferPool hands out pooled byte slices sized for event frames,
// using the *[]byte pattern to avoid sync.Pool's interface boxing
// allocation on the hot path.
var bufferPool = struct {
	pool4k   sync.Pool
	pool16k  sync.Pool
	pool64k  sync.Pool
	pool256k sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool16k:  sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
}

// getBuffer returns a pooled buffer of at least the requested size.
// Caller must call putBuffer when done.
func getBuffer(size int) []byte {
	switch {
	case size <= size4k:
		return (*bufferPool.pool4k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*bufferPool.pool16k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*bufferPool.pool64k.Get().(*[]byte))[:size]
	default:
		return (*bufferPool.pool256k.Get().(*[]byte))[:size]
	}
}

// putBuffer returns a buffer to the pool matching its capacity.
// Buffers with a non-standard capacity (e.g. grown past size256k) are
// simply dropped rather than pooled.
func putBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size4k:
		bufferPool.pool4k.Put(&buf)
	case size16k:
		bufferPool.pool16k.Put(&buf)
	case size64k:
		bufferPool.pool64k.Put(&buf)
	case size256k:
		bufferPool.pool256k.Put(&buf)
	}
}
