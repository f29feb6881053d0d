// Package lane rotates a pool of rings between a single producer and
// the drain worker: an active ring absorbs writes until full, then
// moves to a submitted queue while a free ring takes its place.
package lane

import (
	"github.com/adatrace/tracer/internal/ring"
	"github.com/adatrace/tracer/internal/spscqueue"
)

// Lane owns a fixed pool of rings plus the free/submitted index
// queues that rotate them between the producer and the drain worker.
// Only the owning thread may call Write; only the drain worker may
// call NextSubmitted/Reclaim.
type Lane struct {
	rings     []*ring.Ring
	free      *spscqueue.Queue
	submitted *spscqueue.Queue

	activeIdx uint32
	active    *ring.Ring
}

// New creates a lane with the given number of rings, each sized to
// ringCapacity bytes.
func New(ringCount int, ringCapacity uint32) *Lane {
	if ringCount < 2 {
		ringCount = 2
	}
	l := &Lane{
		rings:     make([]*ring.Ring, ringCount),
		free:      spscqueue.New(uint32(ringCount)),
		submitted: spscqueue.New(uint32(ringCount)),
	}
	for i := range l.rings {
		l.rings[i] = ring.New(ringCapacity)
	}
	l.activeIdx = 0
	l.active = l.rings[0]
	for i := 1; i < ringCount; i++ {
		l.free.Push(uint32(i))
	}
	return l
}

// Write appends a framed record to the active ring, rotating to a
// free ring if the active one is full. Returns false (the event is
// dropped by the caller) if no free ring is available.
func (l *Lane) Write(p []byte) bool {
	if l.active.Write(p) {
		return true
	}
	if !l.rotate() {
		return false
	}
	return l.active.Write(p)
}

// rotate submits the current active ring and swaps in a free one.
// Returns false if the pool has no free ring, leaving the active ring
// unchanged (the caller's write will fail against the still-full
// ring).
func (l *Lane) rotate() bool {
	nextIdx, ok := l.free.Pop()
	if !ok {
		return false
	}
	l.submitted.Push(l.activeIdx)
	l.activeIdx = nextIdx
	l.active = l.rings[nextIdx]
	return true
}

// ForceSwap submits the active ring even if it isn't full. Only safe
// to call once the owning thread is known to have stopped writing
// (e.g. during the final drain pass of a shutdown), since it mutates
// the same activeIdx/active fields Write uses without synchronization.
func (l *Lane) ForceSwap() (ringIdx uint32, swapped bool) {
	if l.active.IsEmpty() {
		return 0, false
	}
	idx, ok := l.free.Pop()
	if !ok {
		return 0, false
	}
	prev := l.activeIdx
	l.submitted.Push(prev)
	l.activeIdx = idx
	l.active = l.rings[idx]
	return prev, true
}

// NextSubmitted pops the next ring index the drain worker should
// drain, if any is waiting.
func (l *Lane) NextSubmitted() (uint32, bool) {
	return l.submitted.Pop()
}

// Ring returns the ring at the given pool index.
func (l *Lane) Ring(idx uint32) *ring.Ring {
	return l.rings[idx]
}

// Reclaim resets a fully drained ring and returns it to the free
// queue. Called by the drain worker once Ring(idx) reports empty.
func (l *Lane) Reclaim(idx uint32) {
	l.rings[idx].Reset()
	l.free.Push(idx)
}

// SubmittedDepth reports how many rings are currently waiting to be
// drained, used for the drain worker's fairness accounting.
func (l *Lane) SubmittedDepth() int {
	return l.submitted.Len()
}

// RingCount returns the number of rings in the pool.
func (l *Lane) RingCount() int {
	return len(l.rings)
}
