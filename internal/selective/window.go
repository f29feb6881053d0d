package selective

// Window tracks one detail ring's persistence decision state between
// the time it becomes active and the time it fills. Field names and
// the monotone WindowID mirror spec.md's SelectiveWindow data model
// (window_id, start_ns, end_ns, first_mark_ns, last_event_ns,
// total_events, marked_events, mark_seen).
type Window struct {
	WindowID uint64
	ThreadID uint64
	SymbolID uint32
	Symbol   string
	StartNs  int64

	firstMarkNs  int64
	lastEventNs  int64
	totalEvents  uint64
	markedEvents uint64

	markSeen bool // set once a matching event has been observed this window
	marked   bool // the lane's sticky marked flag, carried across windows until explicitly cleared
}

// NewWindow opens a window identified by windowID (a caller-assigned
// monotone id, see Manager.NextWindowID) starting at startNs,
// inheriting the marked flag from whatever window preceded it (the
// marked flag is a Lane property, not reset per window).
func NewWindow(windowID, threadID uint64, startNs int64, marked bool) *Window {
	return &Window{WindowID: windowID, ThreadID: threadID, StartNs: startNs, lastEventNs: startNs, marked: marked}
}

// Observe records one event against the window: total_events counts
// every observed event, marked_events counts every event matching the
// marking policy, and first_mark_ns latches the timestamp of the
// first such match (mark_seen follows the same latch).
func (w *Window) Observe(symbol, message string, nowNs int64, policy *MarkingPolicy) {
	w.lastEventNs = nowNs
	w.totalEvents++
	if policy != nil && policy.Matches(symbol, message) {
		w.markedEvents++
		if !w.markSeen {
			w.markSeen = true
			w.firstMarkNs = nowNs
			if w.SymbolID == 0 {
				w.Symbol = symbol
			}
		}
	}
}

// SetMarked sets the lane's sticky marked flag directly, e.g. from an
// external controller command rather than an observed event.
func (w *Window) SetMarked(marked bool) {
	w.marked = marked
}

// Marked reports the current sticky marked flag.
func (w *Window) Marked() bool {
	return w.marked
}

// MarkSeen reports whether a matching event has been observed this
// window.
func (w *Window) MarkSeen() bool {
	return w.markSeen
}

// FirstMarkNs reports the timestamp of the first event that matched
// the marking policy this window, or zero if none has.
func (w *Window) FirstMarkNs() int64 {
	return w.firstMarkNs
}

// LastEventNs reports the timestamp of the most recently observed
// event this window.
func (w *Window) LastEventNs() int64 {
	return w.lastEventNs
}

// TotalEvents reports the number of events observed this window.
func (w *Window) TotalEvents() uint64 {
	return w.totalEvents
}

// MarkedEvents reports the number of observed events that matched the
// marking policy this window.
func (w *Window) MarkedEvents() uint64 {
	return w.markedEvents
}

// ShouldDump reports whether a ring that has just filled should be
// persisted: the ring must be full, a matching event must have been
// seen this window, and the lane's marked flag must be set.
func (w *Window) ShouldDump(ringFull bool) bool {
	return ringFull && w.markSeen && w.marked
}

// Close ends the window, clamping end_ns to be no earlier than the
// window start even if nowNs regressed (monotonic clock reads should
// never do this, but the clamp keeps a corrupt caller from producing
// a negative-duration window).
func (w *Window) Close(nowNs int64) (startNs, endNs int64) {
	end := nowNs
	if end < w.lastEventNs {
		end = w.lastEventNs
	}
	return w.StartNs, end
}

// Discard clears both the marked flag and the mark-dependent counters
// (markSeen, firstMarkNs, markedEvents) for reuse by the next window
// on the same lane, per the discard path's documented contract (as
// opposed to a successful dump, which leaves the marked flag for the
// caller to decide whether to carry forward).
func (w *Window) Discard() {
	w.markSeen = false
	w.firstMarkNs = 0
	w.markedEvents = 0
	w.marked = false
}
