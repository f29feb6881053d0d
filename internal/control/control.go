// Package control implements the shared-memory control block an
// external controller process reads to observe and limit a running
// capture session without a socket round-trip.
package control

import (
	"sync/atomic"
	"unsafe"
)

// Field byte offsets within the control block header. Multi-byte
// fields a reader must interpret together are updated in the order
// epoch -> payload -> ready, so a reader observing a stale or
// in-flight update only ever sees "not ready yet", never a torn mix
// of old and new payload.
const (
	offReady             = 0
	offShutdownRequested = 4
	offMode              = 8
	offCommand           = 12
	offEpoch             = 16
	// 4 bytes reserved at offset 20
	offHeartbeatNs = 24
	offDroppedEvents     = 32
	offPersistedWindows  = 40

	// Size is the total header size in bytes; the session maps the
	// control block and the thread registry as separate segments.
	Size = 64
)

// Block is a view over the control-block header within a shared
// memory segment. It does not own the backing memory.
type Block struct {
	mem []byte
}

// New wraps the first Size bytes of mem as a control block.
func New(mem []byte) *Block {
	if len(mem) < Size {
		panic("control: segment too small for control block header")
	}
	return &Block{mem: mem}
}

func (b *Block) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b.mem[off]))
}

func (b *Block) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&b.mem[off]))
}

// SetReady publishes the ready flag. Callers performing a multi-field
// update must call this last.
func (b *Block) SetReady(ready bool) {
	var v uint32
	if ready {
		v = 1
	}
	atomic.StoreUint32(b.u32(offReady), v)
}

// IsReady reports the last published ready state.
func (b *Block) IsReady() bool {
	return atomic.LoadUint32(b.u32(offReady)) != 0
}

// SetShutdownRequested is set by an external controller to ask the
// process to begin the shutdown sequence.
func (b *Block) SetShutdownRequested(requested bool) {
	var v uint32
	if requested {
		v = 1
	}
	atomic.StoreUint32(b.u32(offShutdownRequested), v)
}

// ShutdownRequested reports whether an external controller has asked
// for shutdown.
func (b *Block) ShutdownRequested() bool {
	return atomic.LoadUint32(b.u32(offShutdownRequested)) != 0
}

// SetMode publishes the current capture mode (mirrors modefsm.State).
func (b *Block) SetMode(mode uint32) {
	atomic.StoreUint32(b.u32(offMode), mode)
}

// Mode returns the last published capture mode.
func (b *Block) Mode() uint32 {
	return atomic.LoadUint32(b.u32(offMode))
}

// SetCommand lets an external controller write a command word. Nothing
// in this module reads the command word back to change behavior.
func (b *Block) SetCommand(cmd uint32) {
	atomic.StoreUint32(b.u32(offCommand), cmd)
}

// Command returns the last command word written.
func (b *Block) Command() uint32 {
	return atomic.LoadUint32(b.u32(offCommand))
}

// SetEpoch publishes a new control block epoch. Incremented whenever
// the payload fields below are about to be rewritten, so a reader
// comparing epochs before and after reading payload fields can detect
// a concurrent update and retry.
func (b *Block) SetEpoch(epoch uint32) {
	atomic.StoreUint32(b.u32(offEpoch), epoch)
}

// Epoch returns the current control block epoch.
func (b *Block) Epoch() uint32 {
	return atomic.LoadUint32(b.u32(offEpoch))
}

// Heartbeat publishes the owning process's last-alive timestamp, in
// nanoseconds on the monotonic clock the caller uses consistently.
func (b *Block) Heartbeat(nowNs int64) {
	atomic.StoreUint64(b.u64(offHeartbeatNs), uint64(nowNs))
}

// HeartbeatNs returns the last published heartbeat timestamp.
func (b *Block) HeartbeatNs() int64 {
	return int64(atomic.LoadUint64(b.u64(offHeartbeatNs)))
}

// AddDroppedEvents increments the cumulative dropped-event counter
// surfaced to the controller.
func (b *Block) AddDroppedEvents(n uint64) {
	atomic.AddUint64(b.u64(offDroppedEvents), n)
}

// DroppedEvents returns the cumulative dropped-event counter.
func (b *Block) DroppedEvents() uint64 {
	return atomic.LoadUint64(b.u64(offDroppedEvents))
}

// AddPersistedWindows increments the cumulative persisted-window
// counter.
func (b *Block) AddPersistedWindows(n uint64) {
	atomic.AddUint64(b.u64(offPersistedWindows), n)
}

// PersistedWindows returns the cumulative persisted-window counter.
func (b *Block) PersistedWindows() uint64 {
	return atomic.LoadUint64(b.u64(offPersistedWindows))
}
