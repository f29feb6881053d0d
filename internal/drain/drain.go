// Package drain implements the background worker that consumes
// submitted rings across every registered lane, credit-scheduling
// across lanes to keep service roughly fair, and hands each drained
// frame to a sink for persistence.
package drain

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/adatrace/tracer/internal/lane"
	"github.com/adatrace/tracer/internal/logging"
)

// Sink receives one fully-read frame drained from a lane's ring.
// Implemented by internal/writer in the full pipeline; kept as a
// narrow interface here so this package has no writer dependency.
type Sink interface {
	WriteFrame(slotID string, frame []byte) error
}

// Observer receives per-cycle outcomes, satisfied structurally by
// adatrace.MetricsObserver/NoOpObserver.
type Observer interface {
	ObserveDrainCycle(ringsDrained uint64, forcedSwap bool)
	ObserveLaneDepth(depth uint32)
}

// BoundarySink is an optional Sink extension a caller can implement to
// learn when a submitted ring has been fully drained (every framed
// event in it delivered to WriteFrame) and is about to be reclaimed.
// Selective persistence uses this to gate a detail ring's whole
// window at once instead of frame by frame.
type BoundarySink interface {
	RingDrained(slotID string)
}

// slot pairs a lane with the scheduling bookkeeping the fair
// scheduler needs to keep it from starving or hogging a cycle. credit
// only grows, each time the slot is serviced, and is subtracted from
// load when ranking candidates in selectSlot, so a slot that has
// already been favored accumulates a standing penalty against being
// picked again until its peers catch up. serviced is the cumulative
// count of events drained from this slot, tracked purely so Jain's
// fairness index can be computed over it.
type slot struct {
	id       string
	lane     *lane.Lane
	credit   int64
	serviced uint64
}

// Config tunes the drain cycle.
type Config struct {
	MaxBatchSize    int           // rings drained per slot per cycle before rotating
	CreditIncrement int           // credit granted to a slot each time it is serviced
	PollInterval    time.Duration // sleep duration when a cycle drains nothing
}

// DefaultConfig returns conservative defaults matching the teacher's
// io loop poll cadence.
func DefaultConfig() Config {
	return Config{MaxBatchSize: 4, CreditIncrement: 1, PollInterval: time.Millisecond}
}

// Worker drains registered lanes in credit-weighted round-robin order.
type Worker struct {
	cfg      Config
	mu       sync.Mutex // guards slots/next: Register/Unregister may be called by producer threads registering lazily, concurrently with Cycle
	slots    []*slot
	next     int
	sink     Sink
	observer Observer
	limiter  *catrate.Limiter

	fairnessSwitches uint64
	cyclesTotal      uint64
	cyclesIdle       uint64
	finalDrains      uint64
}

// New creates a drain worker. sink may be nil in tests that only
// exercise scheduling and reclaim behavior.
func New(cfg Config, sink Sink, observer Observer) *Worker {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 4
	}
	if cfg.CreditIncrement <= 0 {
		cfg.CreditIncrement = 1
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Worker{
		cfg:      cfg,
		sink:     sink,
		observer: observer,
		limiter:  catrate.NewLimiter(map[time.Duration]int{time.Second: 1}),
	}
}

type noopObserver struct{}

func (noopObserver) ObserveDrainCycle(uint64, bool) {}
func (noopObserver) ObserveLaneDepth(uint32)        {}

// Register adds a lane to the scheduling rotation under id (typically
// "<threadID>:index" or "<threadID>:detail", or "global:index").
func (w *Worker) Register(id string, l *lane.Lane) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.slots = append(w.slots, &slot{id: id, lane: l})
}

// Unregister removes a lane from rotation, e.g. on thread exit after
// its final drain has completed.
func (w *Worker) Unregister(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.slots {
		if s.id == id {
			w.slots = append(w.slots[:i], w.slots[i+1:]...)
			if w.next > i {
				w.next--
			}
			break
		}
	}
}

// Cycle runs one scheduling pass: selects the highest-load slot
// subject to credit, drains up to MaxBatchSize rings from it, and
// rotates to the next slot. Returns the number of events drained this
// cycle; zero means the caller should idle per cfg.PollInterval.
func (w *Worker) Cycle() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cyclesTotal++
	if len(w.slots) == 0 {
		w.cyclesIdle++
		return 0
	}

	s := w.selectSlot()
	w.observer.ObserveLaneDepth(uint32(s.lane.SubmittedDepth()))

	drained := 0
	rings := 0
	for i := 0; i < w.cfg.MaxBatchSize; i++ {
		idx, ok := s.lane.NextSubmitted()
		if !ok {
			break
		}
		drained += w.drainRing(s, idx)
		rings++
	}

	if drained > 0 {
		s.credit += int64(w.cfg.CreditIncrement)
		s.serviced += uint64(drained)
	} else {
		w.cyclesIdle++
	}
	w.rotate()
	w.observer.ObserveDrainCycle(uint64(rings), false)
	return drained
}

// selectSlot picks the slot with the highest submitted depth minus
// standing credit, breaking ties by round-robin order starting at
// w.next so no slot with equal score is serviced twice before its
// peers. Subtracting credit is what makes selection "subject to
// credits": a slot that has been serviced repeatedly carries a
// growing penalty, so once a quieter peer's load overtakes that
// penalty, scheduling swings to the peer instead of starving it.
func (w *Worker) selectSlot() *slot {
	best := w.slots[w.next]
	bestScore := best.score()
	for off := 1; off < len(w.slots); off++ {
		idx := (w.next + off) % len(w.slots)
		cand := w.slots[idx]
		score := cand.score()
		if score > bestScore {
			best, bestScore = cand, score
		}
	}
	return best
}

func (s *slot) score() int64 {
	return int64(s.lane.SubmittedDepth()) - s.credit
}

func (w *Worker) rotate() {
	if len(w.slots) == 0 {
		return
	}
	w.next = (w.next + 1) % len(w.slots)
	w.fairnessSwitches++
}

// drainRing reads every framed event out of the ring at idx, hands
// each to the sink, and reclaims the ring. Returns the number of
// events read, which feeds both Cycle's return value and the per-slot
// serviced-event counts behind FairnessIndex.
func (w *Worker) drainRing(s *slot, idx uint32) int {
	r := s.lane.Ring(idx)
	buf := make([]byte, 64*1024)
	events := 0
	for {
		n, ok := r.ReadNext(buf)
		if !ok {
			break
		}
		events++
		if w.sink != nil {
			if err := w.sink.WriteFrame(s.id, buf[:n]); err != nil {
				if _, allowed := w.limiter.Allow("write-error:" + s.id); allowed {
					// rate-limited to one warning per slot per second;
					// the frame is dropped and draining continues.
					logging.Default().Warnf("drain: sink write failed for %s: %v", s.id, err)
				}
			}
		}
	}
	if w.sink != nil {
		if bs, ok := w.sink.(BoundarySink); ok {
			bs.RingDrained(s.id)
		}
	}
	s.lane.Reclaim(idx)
	return events
}

// FinalDrain runs cycles with every lane force-swapped until every
// submitted queue is empty and every ring has been drained, used by
// the shutdown sequence once producers are known to have stopped.
func (w *Worker) FinalDrain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.slots {
		// ForceSwap has already pushed the old active ring onto the
		// submitted queue, so the loop below drains it.
		if _, swapped := s.lane.ForceSwap(); swapped {
			w.finalDrains++
		}
	}
	for {
		drained := 0
		for _, s := range w.slots {
			for {
				idx, ok := s.lane.NextSubmitted()
				if !ok {
					break
				}
				s.serviced += uint64(w.drainRing(s, idx))
				drained++
			}
		}
		if drained == 0 {
			break
		}
	}
}

// Stats returns the cumulative scheduling counters.
func (w *Worker) Stats() (fairnessSwitches, cyclesTotal, cyclesIdle, finalDrains uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fairnessSwitches, w.cyclesTotal, w.cyclesIdle, w.finalDrains
}

// FairnessIndex computes Jain's fairness index (Jain, Chiu & Hawe
// 1984) over cumulative per-slot serviced-event counts: 1.0 means
// every registered slot has been serviced equally, 1/n is maximally
// unfair (all service concentrated on one slot). spec.md's C8 fair
// scheduler targets >= 0.9 under balanced load; tests assert against
// this directly rather than against internal credit values.
func (w *Worker) FairnessIndex() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return jainFairnessIndex(w.slots)
}

func jainFairnessIndex(slots []*slot) float64 {
	if len(slots) == 0 {
		return 1
	}
	var sum, sumSq float64
	for _, s := range slots {
		x := float64(s.serviced)
		sum += x
		sumSq += x * x
	}
	if sumSq == 0 {
		return 1
	}
	return (sum * sum) / (float64(len(slots)) * sumSq)
}
