package modefsm

import (
	"sync"

	"github.com/adatrace/tracer/internal/laneset"
)

// ThreadState is the per-thread state a producer carries: its cached
// lane set, current FSM state, and the counters the transition table
// above updates.
type ThreadState struct {
	ThreadID uint64
	Lanes    *laneset.ThreadLaneSet

	Mode           State
	Transitions    uint64
	Fallbacks      uint64
	LastSeenEpoch  uint32
	ReentrancyDepth int
}

// ProducerTLS caches per-thread state keyed by OS thread id. Go has
// no true thread-local storage; this stands in for it the same way
// the teacher pins a goroutine to an OS thread with
// runtime.LockOSThread and indexes per-thread state by its id rather
// than relying on goroutine-local storage. The map is keyed by
// whatever thread id the caller passes and guarded by a single mutex;
// this package does not obtain or verify OS thread ids itself.
type ProducerTLS struct {
	mu      sync.Mutex
	threads map[uint64]*ThreadState
}

// NewProducerTLS creates an empty cache.
func NewProducerTLS() *ProducerTLS {
	return &ProducerTLS{threads: make(map[uint64]*ThreadState)}
}

// Lookup returns the ThreadState for threadID, creating one in
// GLOBAL_ONLY if this is the first call seen from that thread.
func (p *ProducerTLS) Lookup(threadID uint64) *ThreadState {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.threads[threadID]
	if !ok {
		ts = &ThreadState{ThreadID: threadID, Mode: GlobalOnly}
		p.threads[threadID] = ts
	}
	return ts
}

// Forget drops cached state for threadID, called on thread exit.
func (p *ProducerTLS) Forget(threadID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.threads, threadID)
}

// Enter increments the reentrancy depth for ts and reports whether
// this call is the outermost (depth == 1); nested calls (depth > 1)
// are a no-op from the caller's point of view: no event should be
// emitted for them, but Exit must still be called to keep the depth
// counter balanced.
func (ts *ThreadState) Enter() (depth int, outermost bool) {
	ts.ReentrancyDepth++
	return ts.ReentrancyDepth, ts.ReentrancyDepth == 1
}

// Exit decrements the reentrancy depth.
func (ts *ThreadState) Exit() int {
	if ts.ReentrancyDepth > 0 {
		ts.ReentrancyDepth--
	}
	return ts.ReentrancyDepth
}

// Tick applies one mode-transition step given the current health
// observation, updating Transitions/Fallbacks/LastSeenEpoch as the
// transition table dictates.
func (ts *ThreadState) Tick(healthy bool, epoch uint32) State {
	next := Next(ts.Mode, healthy)
	if Transitioned(ts.Mode, next) {
		ts.Transitions++
	} else if Fellback(ts.Mode, next) {
		ts.Fallbacks++
	}
	if healthy {
		ts.LastSeenEpoch = epoch
	}
	ts.Mode = next
	return ts.Mode
}
