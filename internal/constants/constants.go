package constants

import "time"

// Default sizing constants for lanes and rings.
const (
	// DefaultRingCapacity is the default per-ring byte capacity (1MB),
	// rounded up to a power of two by the ring constructor.
	DefaultRingCapacity = 1 << 20

	// DefaultRingsPerLane is the default number of rings a lane rotates
	// through between the producer and the drain worker.
	DefaultRingsPerLane = 4

	// DefaultRegistryCapacity is the default number of thread slots in
	// the shared-memory thread registry.
	DefaultRegistryCapacity = 256

	// DefaultMaxDetailPayload caps a single detail-lane record so one
	// oversized argument blob cannot starve the rest of a ring.
	DefaultMaxDetailPayload = 64 * 1024

	// AutoAssignSessionID indicates the controller should assign a
	// session id rather than the caller pinning one.
	AutoAssignSessionID = -1
)

// Timing constants for capture-mode and shutdown lifecycle.
//
// These account for scheduling latency between the producer, the drain
// worker, and an external controller process reading the control block.
// The mode FSM requires a clear ordering:
//  1. Capture starts in GLOBAL_ONLY.
//  2. The session's control loop ticks every thread's FSM once per
//     HeartbeatInterval; a tick that finds the control block healthy
//     moves GLOBAL_ONLY to DUAL_WRITE so in-flight events are not lost
//     mid-switch.
//  3. The next healthy tick, one heartbeat interval later, settles the
//     FSM into PER_THREAD_ONLY.
//
// Without these delays a thread can flip modes mid-burst and split a
// single logical call's enter/exit pair across two lanes.
const (
	// ModeSwitchSettleDelay is a DUAL_WRITE hold time that nothing in
	// this module reads; DUAL_WRITE lasts one control tick
	// (HeartbeatInterval).
	ModeSwitchSettleDelay = 50 * time.Millisecond

	// HeartbeatInterval is how often the control block's heartbeat
	// field is refreshed by the registry/control block owner.
	HeartbeatInterval = 10 * time.Millisecond

	// HeartbeatTimeout is the maximum age of a heartbeat before the
	// mode FSM considers the control block unhealthy and degrades to
	// GLOBAL_ONLY.
	HeartbeatTimeout = 200 * time.Millisecond

	// ShutdownDrainTimeout is a final-drain time bound that nothing in
	// this module reads: the shutdown sequence waits for the final
	// drain pass to finish without a time limit.
	ShutdownDrainTimeout = 2 * time.Second
)

// Memory allocation constants.
const (
	// IndexRecordSize is the fixed size of one index-lane record.
	IndexRecordSize = 32
)

// ATFMagic and ATFVersion identify the events.atf file format: a fixed
// 4-byte magic followed by a u32 format version, written once at the
// start of the file before the first framed event.
const (
	ATFMagic   = "ADTF"
	ATFVersion = 1
)
