package adatrace

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering a single captured call's enter-to-exit duration from 1us to
// 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks capture, drain, and persistence statistics for a
// session. All fields are safe for concurrent access from the capture
// path, the drain worker, and the writer without additional locking.
type Metrics struct {
	// Capture-path counters
	IndexEvents   atomic.Uint64 // Total index-lane records emitted
	DetailEvents  atomic.Uint64 // Total detail-lane records emitted
	DroppedIndex  atomic.Uint64 // Index records dropped (full ring, exhausted registry, ...)
	DroppedDetail atomic.Uint64 // Detail records dropped

	// Byte counters
	IndexBytes  atomic.Uint64
	DetailBytes atomic.Uint64

	// Drain-path counters
	DrainCycles  atomic.Uint64 // Number of scheduler passes the drain worker has run
	RingsDrained atomic.Uint64 // Rings fully drained and returned to the free queue
	ForcedSwaps  atomic.Uint64 // Partially-filled rings force-swapped (final drain, timeout)

	// Persistence counters
	WindowsPersisted atomic.Uint64
	WindowsDiscarded atomic.Uint64

	// Writer counters
	BytesWritten atomic.Uint64
	WriteErrors  atomic.Uint64
	FsyncCount   atomic.Uint64

	// Lane depth tracking, sampled by the drain worker each cycle
	LaneDepthTotal atomic.Uint64
	LaneDepthCount atomic.Uint64
	MaxLaneDepth   atomic.Uint32

	// Call latency (enter/exit span)
	TotalLatencyNs atomic.Uint64
	CallCount      atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Session lifecycle
	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordIndexEvent records one index-lane emission.
func (m *Metrics) RecordIndexEvent(bytes uint64, latencyNs uint64, dropped bool) {
	if dropped {
		m.DroppedIndex.Add(1)
		return
	}
	m.IndexEvents.Add(1)
	m.IndexBytes.Add(bytes)
	m.recordLatency(latencyNs)
}

// RecordDetailEvent records one detail-lane emission.
func (m *Metrics) RecordDetailEvent(bytes uint64, dropped bool) {
	if dropped {
		m.DroppedDetail.Add(1)
		return
	}
	m.DetailEvents.Add(1)
	m.DetailBytes.Add(bytes)
}

// RecordDrainCycle records one scheduler pass over the registered lanes.
func (m *Metrics) RecordDrainCycle(ringsDrained uint64, forcedSwap bool) {
	m.DrainCycles.Add(1)
	m.RingsDrained.Add(ringsDrained)
	if forcedSwap {
		m.ForcedSwaps.Add(1)
	}
}

// RecordPersistenceDecision records a completed persistence window.
func (m *Metrics) RecordPersistenceDecision(persisted bool) {
	if persisted {
		m.WindowsPersisted.Add(1)
	} else {
		m.WindowsDiscarded.Add(1)
	}
}

// RecordWrite records a writer append.
func (m *Metrics) RecordWrite(bytes uint64, success bool) {
	if success {
		m.BytesWritten.Add(bytes)
	} else {
		m.WriteErrors.Add(1)
	}
}

// RecordFsync records one fsync call.
func (m *Metrics) RecordFsync() {
	m.FsyncCount.Add(1)
}

// RecordLaneDepth records a sampled lane submitted-queue depth.
func (m *Metrics) RecordLaneDepth(depth uint32) {
	m.LaneDepthTotal.Add(uint64(depth))
	m.LaneDepthCount.Add(1)
	for {
		current := m.MaxLaneDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxLaneDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.CallCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the session as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics with derived
// statistics computed.
type MetricsSnapshot struct {
	IndexEvents   uint64
	DetailEvents  uint64
	DroppedIndex  uint64
	DroppedDetail uint64

	IndexBytes  uint64
	DetailBytes uint64

	DrainCycles  uint64
	RingsDrained uint64
	ForcedSwaps  uint64

	WindowsPersisted uint64
	WindowsDiscarded uint64

	BytesWritten uint64
	WriteErrors  uint64
	FsyncCount   uint64

	AvgLaneDepth float64
	MaxLaneDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	EventsPerSecond float64
	DropRate        float64 // percentage of emissions dropped
	TotalEvents     uint64
	TotalDropped    uint64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		IndexEvents:      m.IndexEvents.Load(),
		DetailEvents:     m.DetailEvents.Load(),
		DroppedIndex:     m.DroppedIndex.Load(),
		DroppedDetail:    m.DroppedDetail.Load(),
		IndexBytes:       m.IndexBytes.Load(),
		DetailBytes:      m.DetailBytes.Load(),
		DrainCycles:      m.DrainCycles.Load(),
		RingsDrained:     m.RingsDrained.Load(),
		ForcedSwaps:      m.ForcedSwaps.Load(),
		WindowsPersisted: m.WindowsPersisted.Load(),
		WindowsDiscarded: m.WindowsDiscarded.Load(),
		BytesWritten:     m.BytesWritten.Load(),
		WriteErrors:      m.WriteErrors.Load(),
		FsyncCount:       m.FsyncCount.Load(),
		MaxLaneDepth:     m.MaxLaneDepth.Load(),
	}

	snap.TotalEvents = snap.IndexEvents + snap.DetailEvents
	snap.TotalDropped = snap.DroppedIndex + snap.DroppedDetail

	laneDepthTotal := m.LaneDepthTotal.Load()
	laneDepthCount := m.LaneDepthCount.Load()
	if laneDepthCount > 0 {
		snap.AvgLaneDepth = float64(laneDepthTotal) / float64(laneDepthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	callCount := m.CallCount.Load()
	if callCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / callCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.EventsPerSecond = float64(snap.TotalEvents) / uptimeSeconds
	}

	denom := snap.TotalEvents + snap.TotalDropped
	if denom > 0 {
		snap.DropRate = float64(snap.TotalDropped) / float64(denom) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if callCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.CallCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.IndexEvents.Store(0)
	m.DetailEvents.Store(0)
	m.DroppedIndex.Store(0)
	m.DroppedDetail.Store(0)
	m.IndexBytes.Store(0)
	m.DetailBytes.Store(0)
	m.DrainCycles.Store(0)
	m.RingsDrained.Store(0)
	m.ForcedSwaps.Store(0)
	m.WindowsPersisted.Store(0)
	m.WindowsDiscarded.Store(0)
	m.BytesWritten.Store(0)
	m.WriteErrors.Store(0)
	m.FsyncCount.Store(0)
	m.LaneDepthTotal.Store(0)
	m.LaneDepthCount.Store(0)
	m.MaxLaneDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.CallCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection, mirrored by capture,
// drain, and writer so a caller can wire in its own collector instead
// of the built-in Metrics.
type Observer interface {
	ObserveIndexEvent(bytes uint64, latencyNs uint64, dropped bool)
	ObserveDetailEvent(bytes uint64, dropped bool)
	ObserveDrainCycle(ringsDrained uint64, forcedSwap bool)
	ObservePersistenceDecision(persisted bool)
	ObserveWrite(bytes uint64, success bool)
	ObserveLaneDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveIndexEvent(uint64, uint64, bool) {}
func (NoOpObserver) ObserveDetailEvent(uint64, bool)        {}
func (NoOpObserver) ObserveDrainCycle(uint64, bool)         {}
func (NoOpObserver) ObservePersistenceDecision(bool)        {}
func (NoOpObserver) ObserveWrite(uint64, bool)              {}
func (NoOpObserver) ObserveLaneDepth(uint32)                {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveIndexEvent(bytes uint64, latencyNs uint64, dropped bool) {
	o.metrics.RecordIndexEvent(bytes, latencyNs, dropped)
}

func (o *MetricsObserver) ObserveDetailEvent(bytes uint64, dropped bool) {
	o.metrics.RecordDetailEvent(bytes, dropped)
}

func (o *MetricsObserver) ObserveDrainCycle(ringsDrained uint64, forcedSwap bool) {
	o.metrics.RecordDrainCycle(ringsDrained, forcedSwap)
}

func (o *MetricsObserver) ObservePersistenceDecision(persisted bool) {
	o.metrics.RecordPersistenceDecision(persisted)
}

func (o *MetricsObserver) ObserveWrite(bytes uint64, success bool) {
	o.metrics.RecordWrite(bytes, success)
}

func (o *MetricsObserver) ObserveLaneDepth(depth uint32) {
	o.metrics.RecordLaneDepth(depth)
}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
