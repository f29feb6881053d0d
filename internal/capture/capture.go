// Package capture implements the hot-path entry points a hooked
// function call (or hand-instrumented caller) uses to record index
// and detail events: EnterTrace/ExitTrace bracket a call, EmitIndex
// and EmitDetail record standalone markers. None of these ever
// return an error — every failure is counted and the event is
// dropped, so a slow or exhausted tracer never perturbs the traced
// program's control flow.
package capture

import (
	"github.com/adatrace/tracer/internal/lane"
	"github.com/adatrace/tracer/internal/laneset"
	"github.com/adatrace/tracer/internal/modefsm"
)

// Observer receives capture-path outcomes. Satisfied structurally by
// adatrace.MetricsObserver without capture importing the root
// package (which itself imports capture), and by adatrace.NoOpObserver
// for tests that don't care about counts.
type Observer interface {
	ObserveIndexEvent(bytes uint64, latencyNs uint64, dropped bool)
	ObserveDetailEvent(bytes uint64, dropped bool)
}

// Token is returned by EnterTrace and must be passed back to
// ExitTrace to keep the reentrancy depth counter balanced. Its zero
// value is a valid (nested, no-op) token.
type Token struct {
	threadID  uint64
	outermost bool
}

// LaneFactory creates a fresh per-thread lane set the first time a
// thread is observed. Kept as a function rather than a fixed config
// so callers can size lanes differently per process role.
type LaneFactory func(threadID uint64) *laneset.ThreadLaneSet

// Capture is the hot-path capture API. One instance is shared by all
// producer threads; per-thread state is partitioned internally by
// modefsm.ProducerTLS.
type Capture struct {
	tls         *modefsm.ProducerTLS
	newLaneSet  LaneFactory
	globalIndex *lane.Lane
	globalDetail *lane.Lane
	observer    Observer

	fallbackEvents uint64
}

// New creates a Capture instance. globalIndex/globalDetail are the
// process-wide rings used in GLOBAL_ONLY/DUAL_WRITE mode and as the
// fallback destination when a per-thread lane write fails.
func New(globalIndex, globalDetail *lane.Lane, newLaneSet LaneFactory, observer Observer) *Capture {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Capture{
		tls:          modefsm.NewProducerTLS(),
		newLaneSet:   newLaneSet,
		globalIndex:  globalIndex,
		globalDetail: globalDetail,
		observer:     observer,
	}
}

type noopObserver struct{}

func (noopObserver) ObserveIndexEvent(uint64, uint64, bool) {}
func (noopObserver) ObserveDetailEvent(uint64, bool)        {}

func (c *Capture) threadState(threadID uint64) *modefsm.ThreadState {
	ts := c.tls.Lookup(threadID)
	if ts.Lanes == nil && c.newLaneSet != nil {
		ts.Lanes = c.newLaneSet(threadID)
	}
	return ts
}

// EnterTrace brackets the start of a traced call. record is the
// already-encoded index record (caller-built, since the encoding is
// symbol-table specific and out of this package's scope). A nested
// call (one already in flight on this thread) is a no-op: no event
// is emitted, but a valid Token is still returned so the matching
// ExitTrace stays symmetric.
func (c *Capture) EnterTrace(threadID uint64, record []byte) Token {
	ts := c.threadState(threadID)
	_, outermost := ts.Enter()
	if !outermost {
		return Token{threadID: threadID, outermost: false}
	}
	c.writeIndex(ts, record)
	return Token{threadID: threadID, outermost: true}
}

// ExitTrace brackets the end of a traced call. A no-op when tok came
// from a nested EnterTrace.
func (c *Capture) ExitTrace(tok Token, record []byte) {
	ts := c.threadState(tok.threadID)
	ts.Exit()
	if !tok.outermost {
		return
	}
	c.writeIndex(ts, record)
}

// EmitIndex records a standalone index event outside an enter/exit
// bracket (e.g. a symbol table marker).
func (c *Capture) EmitIndex(threadID uint64, record []byte) {
	c.writeIndex(c.threadState(threadID), record)
}

// EmitDetail records a variable-length detail payload (arguments,
// return values, log messages) associated with threadID's current
// lane set.
func (c *Capture) EmitDetail(threadID uint64, payload []byte) {
	ts := c.threadState(threadID)
	c.writeDetail(ts, payload)
}

func (c *Capture) writeIndex(ts *modefsm.ThreadState, record []byte) {
	dropped := false
	switch ts.Mode {
	case modefsm.GlobalOnly:
		dropped = !c.writeGlobalIndex(record)
	case modefsm.DualWrite:
		perThreadOK := c.writePerThreadIndex(ts, record)
		if !perThreadOK {
			c.fallbackEvents++
		}
		globalOK := c.writeGlobalIndex(record)
		dropped = !perThreadOK && !globalOK
	case modefsm.PerThreadOnly:
		if !c.writePerThreadIndex(ts, record) {
			c.fallbackEvents++
			dropped = !c.writeGlobalIndex(record)
		}
	}
	c.observer.ObserveIndexEvent(uint64(len(record)), 0, dropped)
}

func (c *Capture) writeDetail(ts *modefsm.ThreadState, payload []byte) {
	dropped := false
	switch ts.Mode {
	case modefsm.GlobalOnly:
		dropped = !c.writeGlobalDetail(payload)
	case modefsm.DualWrite:
		perThreadOK := c.writePerThreadDetail(ts, payload)
		if !perThreadOK {
			c.fallbackEvents++
		}
		globalOK := c.writeGlobalDetail(payload)
		dropped = !perThreadOK && !globalOK
	case modefsm.PerThreadOnly:
		if !c.writePerThreadDetail(ts, payload) {
			c.fallbackEvents++
			dropped = !c.writeGlobalDetail(payload)
		}
	}
	c.observer.ObserveDetailEvent(uint64(len(payload)), dropped)
}

func (c *Capture) writePerThreadIndex(ts *modefsm.ThreadState, record []byte) bool {
	if ts.Lanes == nil {
		return false
	}
	return ts.Lanes.IndexLane().Write(record)
}

func (c *Capture) writePerThreadDetail(ts *modefsm.ThreadState, payload []byte) bool {
	if ts.Lanes == nil {
		return false
	}
	return ts.Lanes.DetailLane().Write(payload)
}

func (c *Capture) writeGlobalIndex(record []byte) bool {
	if c.globalIndex == nil {
		return false
	}
	return c.globalIndex.Write(record)
}

func (c *Capture) writeGlobalDetail(payload []byte) bool {
	if c.globalDetail == nil {
		return false
	}
	return c.globalDetail.Write(payload)
}

// FallbackEvents returns the cumulative count of per-thread writes
// that fell back to the global ring.
func (c *Capture) FallbackEvents() uint64 {
	return c.fallbackEvents
}

// Tick advances threadID's ModeFSM state given a fresh health
// observation, typically called by the drain worker's control-block
// poll rather than on the capture hot path.
func (c *Capture) Tick(threadID uint64, healthy bool, epoch uint32) modefsm.State {
	return c.threadState(threadID).Tick(healthy, epoch)
}
