// Package shutdown implements the phased, idempotent termination
// sequence: an async-signal-safe handler only flips a flag and pokes
// an eventfd; the actual stop-drain-finalize work runs on an ordinary
// goroutine woken by that eventfd, mirroring the bounded-timeout
// cleanup goroutine pattern a pinned I/O loop needs to hand shutdown
// off to.
package shutdown

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/adatrace/tracer/internal/logging"
)

// Phase is one step of the shutdown sequence.
type Phase int

const (
	Idle Phase = iota
	SignalReceived
	StoppingThreads
	Draining
	Completed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case SignalReceived:
		return "SIGNAL_RECEIVED"
	case StoppingThreads:
		return "STOPPING_THREADS"
	case Draining:
		return "DRAINING"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Reason identifies what triggered a shutdown request.
type Reason int

const (
	ReasonSignal Reason = iota
	ReasonTimer
	ReasonManual
)

// Ops are the callbacks the shutdown sequence drives. All are
// optional; a nil callback is treated as already satisfied.
type Ops struct {
	// StopAcceptingEvents is called once during STOPPING_THREADS.
	// Returning counts lets the manager update the
	// threads_stopped/threads_flushed counters.
	StopAcceptingEvents func() (stopped, flushed int)
	// StopDrain triggers the drain worker's final drain pass and
	// blocks until it has completed.
	StopDrain func()
	// Finalize fsyncs and closes the writer's output files.
	Finalize func() error
}

// Summary is the final counters snapshot logged at the end of a
// completed shutdown.
type Summary struct {
	Duration       time.Duration
	ThreadsStopped int
	ThreadsFlushed int
	Reason         Reason
	SignalNumber   int
	RequestCount   int
}

// Manager runs the shutdown phase sequence exactly once, no matter
// how many times RequestShutdown is called.
type Manager struct {
	requested atomic.Bool
	wakeFD    int

	mu           sync.Mutex
	phase        Phase
	reason       Reason
	signalNumber int
	requestCount int

	ops     Ops
	logger  *logging.Logger
	once    sync.Once
	started time.Time
	done    chan struct{}
}

// New creates a Manager with its eventfd wakeup descriptor armed.
func New(ops Ops, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.Default()
	}
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("shutdown: eventfd: %w", err)
	}
	return &Manager{wakeFD: fd, ops: ops, logger: logger, done: make(chan struct{})}, nil
}

// RequestShutdown is async-signal-safe-in-spirit: the first call
// flips the requested flag and writes to the eventfd to wake Run;
// every call, first or not, updates the last-reason/last-signal/
// request-count bookkeeping under a mutex (not signal-safe by Go's
// own rules; on the first call it is taken after the flag flip and
// before the eventfd write).
func (m *Manager) RequestShutdown(reason Reason, signalNumber int) {
	first := m.requested.CompareAndSwap(false, true)

	m.mu.Lock()
	m.reason = reason
	m.signalNumber = signalNumber
	m.requestCount++
	if first {
		m.phase = SignalReceived
	}
	m.mu.Unlock()

	if first {
		var buf [8]byte
		buf[0] = 1
		_, _ = unix.Write(m.wakeFD, buf[:])
	}
}

// InstallSignalHandler registers SIGINT/SIGTERM to call
// RequestShutdown(ReasonSignal, ...) and returns a function that
// restores default handling.
func (m *Manager) InstallSignalHandler() (uninstall func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range ch {
			if s, ok := sig.(syscall.Signal); ok {
				m.RequestShutdown(ReasonSignal, int(s))
			} else {
				m.RequestShutdown(ReasonSignal, 0)
			}
		}
	}()
	return func() { signal.Stop(ch); close(ch) }
}

// Run blocks until a shutdown has been requested, then executes the
// phase sequence exactly once and returns its summary. Safe to call
// from exactly one goroutine.
func (m *Manager) Run() Summary {
	m.waitForWake()

	var summary Summary
	m.once.Do(func() {
		m.started = time.Now()
		summary = m.execute()
		close(m.done)
	})
	return summary
}

func (m *Manager) waitForWake() {
	buf := make([]byte, 8)
	for {
		n, err := unix.Read(m.wakeFD, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if n > 0 || err != nil {
			return
		}
	}
}

func (m *Manager) execute() Summary {
	m.setPhase(StoppingThreads)
	stopped, flushed := 0, 0
	if m.ops.StopAcceptingEvents != nil {
		stopped, flushed = m.ops.StopAcceptingEvents()
	}

	m.setPhase(Draining)
	if m.ops.StopDrain != nil {
		m.ops.StopDrain()
	}

	if m.ops.Finalize != nil {
		if err := m.ops.Finalize(); err != nil {
			m.logger.Errorf("shutdown: finalize: %v", err)
		}
	}

	m.setPhase(Completed)

	m.mu.Lock()
	summary := Summary{
		Duration:       time.Since(m.started),
		ThreadsStopped: stopped,
		ThreadsFlushed: flushed,
		Reason:         m.reason,
		SignalNumber:   m.signalNumber,
		RequestCount:   m.requestCount,
	}
	m.mu.Unlock()

	m.logger.Infof("shutdown complete: duration=%s threads_stopped=%d threads_flushed=%d reason=%d requests=%d",
		summary.Duration, summary.ThreadsStopped, summary.ThreadsFlushed, summary.Reason, summary.RequestCount)

	return summary
}

func (m *Manager) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// Phase returns the current shutdown phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Done returns a channel closed once the shutdown sequence completes.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close releases the eventfd. Safe to call after Run has returned.
func (m *Manager) Close() error {
	return unix.Close(m.wakeFD)
}
