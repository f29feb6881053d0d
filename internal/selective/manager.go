package selective

import "sync/atomic"

// Observer receives per-window outcomes, satisfied structurally by
// adatrace.MetricsObserver/NoOpObserver.
type Observer interface {
	ObservePersistenceDecision(persisted bool)
}

type noopObserver struct{}

func (noopObserver) ObservePersistenceDecision(bool) {}

// Sink receives windows the manager decides to persist. Implemented
// by internal/writer in the full pipeline.
type Sink interface {
	WriteWindowMetadata(w WindowMetaView) error
}

// WindowMetaView is the subset of a closed window a Sink needs; kept
// separate from Window itself so Sink implementations don't need to
// import this package's mutable state. Field set mirrors spec.md §3's
// SelectiveWindow and §6's window_metadata.jsonl key list exactly:
// window_id, start_ns, end_ns, first_mark_ns, last_event_ns,
// total_events, marked_events, mark_seen.
// Symbol is carried alongside the spec's eight fields as an
// informational extra: the name of the symbol (if any) that produced
// this window's first matching event, useful to a human skimming the
// sidecar file.
type WindowMetaView struct {
	WindowID     uint64
	StartNs      int64
	EndNs        int64
	FirstMarkNs  int64
	LastEventNs  int64
	TotalEvents  uint64
	MarkedEvents uint64
	MarkSeen     bool
	Symbol       string
}

// Manager evaluates filled rings against a MarkingPolicy and drives
// each lane's current Window through the dump-or-discard decision.
type Manager struct {
	policy   *MarkingPolicy
	sink     Sink
	observer Observer

	windowsPersisted uint64
	windowsDiscarded uint64
	nextWindowID     atomic.Uint64
}

// NextWindowID returns the next value in the monotone window_id
// sequence spec.md §3 assigns "when a new detail ring becomes active".
// Callers creating a Window via NewWindow should draw its id from
// here so ids stay unique and increasing across the Manager's
// lifetime, regardless of which lane the window belongs to.
func (m *Manager) NextWindowID() uint64 {
	return m.nextWindowID.Add(1)
}

// NewManager creates a Manager. sink may be nil in tests that only
// exercise the decision logic.
func NewManager(policy *MarkingPolicy, sink Sink, observer Observer) *Manager {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Manager{policy: policy, sink: sink, observer: observer}
}

// Policy returns the manager's marking policy, for callers that need
// to evaluate Observe themselves before a ring fills.
func (m *Manager) Policy() *MarkingPolicy {
	return m.policy
}

// RingFilled is called when a lane's active detail ring has filled.
// It applies the should_dump decision to w, persists the window via
// the sink if warranted, and reports the carried-forward marked flag
// for the window that replaces w.
func (m *Manager) RingFilled(w *Window, nowNs int64) (persisted bool, carryMarked bool) {
	if w.ShouldDump(true) {
		start, end := w.Close(nowNs)
		m.windowsPersisted++
		m.observer.ObservePersistenceDecision(true)
		if m.sink != nil {
			_ = m.sink.WriteWindowMetadata(WindowMetaView{
				WindowID:     w.WindowID,
				StartNs:      start,
				EndNs:        end,
				FirstMarkNs:  w.firstMarkNs,
				LastEventNs:  w.lastEventNs,
				TotalEvents:  w.totalEvents,
				MarkedEvents: w.markedEvents,
				MarkSeen:     w.markSeen,
				Symbol:       w.Symbol,
			})
		}
		return true, w.Marked()
	}

	m.windowsDiscarded++
	m.observer.ObservePersistenceDecision(false)
	w.Discard()
	return false, w.Marked()
}

// Stats returns the cumulative persisted/discarded window counts.
func (m *Manager) Stats() (persisted, discarded uint64) {
	return m.windowsPersisted, m.windowsDiscarded
}
