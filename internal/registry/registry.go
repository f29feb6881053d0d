// Package registry implements the shared-memory thread registry: a
// fixed-capacity table mapping live OS thread ids to the slot an
// external controller reads to find that thread's lane set.
package registry

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/adatrace/tracer/internal/constants"
)

// ErrFull is returned by Register when every slot is occupied. The
// root package's session logs it as a warning and does not return it
// to callers.
var ErrFull = errors.New("registry: no free slot")

// SlotSize is the byte size of one registry slot: thread id (8),
// epoch (4), occupied flag (4), last-seen heartbeat nanoseconds (8).
const SlotSize = 24

const (
	slotOffThreadID   = 0
	slotOffEpoch      = 8
	slotOffOccupied   = 12
	slotOffLastSeenNs = 16
)

// Registry is a view over a fixed-capacity array of thread slots
// within a shared memory segment. It does not own the backing memory.
type Registry struct {
	mem      []byte
	capacity int
}

// New wraps mem as a registry with room for capacity slots. mem must
// be at least capacity*SlotSize bytes; the session passes a shared
// segment of its own, separate from the control block's.
func New(mem []byte, capacity int) *Registry {
	if capacity <= 0 {
		capacity = constants.DefaultRegistryCapacity
	}
	if len(mem) < capacity*SlotSize {
		panic("registry: segment too small for requested capacity")
	}
	return &Registry{mem: mem, capacity: capacity}
}

func (r *Registry) slotOffset(idx int) int {
	return idx * SlotSize
}

func (r *Registry) u32(idx int, fieldOff int) *uint32 {
	off := r.slotOffset(idx) + fieldOff
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r *Registry) u64(idx int, fieldOff int) *uint64 {
	off := r.slotOffset(idx) + fieldOff
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

// Capacity returns the number of slots the registry has room for.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Register claims the first free slot for threadID and returns its
// index and the epoch stamped into it. A threadID already holding a
// slot is not claimed twice: Register finds and returns that existing
// slot instead, refreshing its heartbeat. Epoch increments on every
// new claim of a given slot, including wraparound past the uint32 max;
// wraparound is accepted as a rare, benign false-negative window for
// a controller comparing epochs across a registry reread, never a
// correctness hazard for the registry itself.
func (r *Registry) Register(threadID uint64, nowNs int64) (int, uint32, error) {
	if idx, ok := r.Find(threadID); ok {
		r.Heartbeat(idx, nowNs)
		return idx, r.Epoch(idx), nil
	}
	for idx := 0; idx < r.capacity; idx++ {
		occupied := r.u32(idx, slotOffOccupied)
		if !atomic.CompareAndSwapUint32(occupied, 0, 1) {
			continue
		}
		epoch := atomic.AddUint32(r.u32(idx, slotOffEpoch), 1)
		atomic.StoreUint64(r.u64(idx, slotOffThreadID), threadID)
		atomic.StoreUint64(r.u64(idx, slotOffLastSeenNs), uint64(nowNs))
		return idx, epoch, nil
	}
	return 0, 0, fmt.Errorf("%w: thread %d", ErrFull, threadID)
}

// Unregister releases idx back to the free pool. The epoch is bumped
// again so a Find racing with a concurrent Register of a different
// thread into the same slot never reads a mixed identity.
func (r *Registry) Unregister(idx int) {
	atomic.StoreUint64(r.u64(idx, slotOffThreadID), 0)
	atomic.AddUint32(r.u32(idx, slotOffEpoch), 1)
	atomic.StoreUint32(r.u32(idx, slotOffOccupied), 0)
}

// Heartbeat records that the thread owning idx is still alive.
func (r *Registry) Heartbeat(idx int, nowNs int64) {
	atomic.StoreUint64(r.u64(idx, slotOffLastSeenNs), uint64(nowNs))
}

// LastSeenNs returns the last heartbeat timestamp recorded for idx.
func (r *Registry) LastSeenNs(idx int) int64 {
	return int64(atomic.LoadUint64(r.u64(idx, slotOffLastSeenNs)))
}

// Epoch returns the current generation stamp of idx.
func (r *Registry) Epoch(idx int) uint32 {
	return atomic.LoadUint32(r.u32(idx, slotOffEpoch))
}

// Occupied reports whether idx currently holds a live thread.
func (r *Registry) Occupied(idx int) bool {
	return atomic.LoadUint32(r.u32(idx, slotOffOccupied)) != 0
}

// ThreadID returns the thread id stamped into idx.
func (r *Registry) ThreadID(idx int) uint64 {
	return atomic.LoadUint64(r.u64(idx, slotOffThreadID))
}

// Find scans occupied slots for threadID and returns its slot index.
// Linear scan is deliberate: the registry is sized for a bounded
// number of live threads and read far less often than it is written.
func (r *Registry) Find(threadID uint64) (int, bool) {
	for idx := 0; idx < r.capacity; idx++ {
		if !r.Occupied(idx) {
			continue
		}
		if r.ThreadID(idx) == threadID {
			return idx, true
		}
	}
	return 0, false
}
