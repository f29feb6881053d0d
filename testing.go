package adatrace

import "sync"

// FakeControlPlane provides a mock implementation of the external
// controller side of the control block for testing capture-mode
// transitions without a real attaching process. It tracks method
// calls for verification, mirroring the teacher's call-count tracking
// convention for mock backends.
type FakeControlPlane struct {
	mu sync.RWMutex

	ready              bool
	shutdownRequested  bool
	heartbeatNs        int64
	command            uint32
	readyCalls         int
	heartbeatCalls     int
	shutdownCalls      int
}

// NewFakeControlPlane creates a fake control plane, initially not ready.
func NewFakeControlPlane() *FakeControlPlane {
	return &FakeControlPlane{}
}

// SetReady marks the control plane ready, as a real attaching
// controller would after mapping the shared segment.
func (f *FakeControlPlane) SetReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readyCalls++
	f.ready = ready
}

// IsReady reports the last value set by SetReady.
func (f *FakeControlPlane) IsReady() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ready
}

// Heartbeat records a heartbeat timestamp, as the control block owner
// would on its refresh interval.
func (f *FakeControlPlane) Heartbeat(nowNs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeatCalls++
	f.heartbeatNs = nowNs
}

// LastHeartbeatNs returns the most recently recorded heartbeat.
func (f *FakeControlPlane) LastHeartbeatNs() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.heartbeatNs
}

// RequestShutdown simulates an external controller requesting shutdown.
func (f *FakeControlPlane) RequestShutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownCalls++
	f.shutdownRequested = true
}

// ShutdownRequested reports whether RequestShutdown has been called.
func (f *FakeControlPlane) ShutdownRequested() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.shutdownRequested
}

// SetCommand simulates the controller writing a command word; Command
// returns it.
func (f *FakeControlPlane) SetCommand(cmd uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.command = cmd
}

// Command returns the last command word set.
func (f *FakeControlPlane) Command() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.command
}

// CallCounts returns the number of times each tracked method has been
// called, for assertions in tests exercising the mode FSM.
func (f *FakeControlPlane) CallCounts() map[string]int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return map[string]int{
		"ready":     f.readyCalls,
		"heartbeat": f.heartbeatCalls,
		"shutdown":  f.shutdownCalls,
	}
}

// Reset clears all call counters and state flags.
func (f *FakeControlPlane) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = false
	f.shutdownRequested = false
	f.heartbeatNs = 0
	f.command = 0
	f.readyCalls = 0
	f.heartbeatCalls = 0
	f.shutdownCalls = 0
}

// FakeClock is a manually-advanced nanosecond clock for tests.
// internal/timer reads time.Now and does not accept it.
type FakeClock struct {
	mu  sync.Mutex
	now int64
}

// NewFakeClock creates a clock starting at the given nanosecond value.
func NewFakeClock(startNs int64) *FakeClock {
	return &FakeClock{now: startNs}
}

// NowNs returns the current fake time in nanoseconds.
func (c *FakeClock) NowNs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward by the given nanosecond delta.
func (c *FakeClock) Advance(deltaNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += deltaNs
}
