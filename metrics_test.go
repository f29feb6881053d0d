package adatrace

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalEvents != 0 {
		t.Errorf("Expected 0 initial events, got %d", snap.TotalEvents)
	}

	m.RecordIndexEvent(32, 1_000_000, false)  // index record, 1ms latency
	m.RecordDetailEvent(128, false)           // detail record
	m.RecordIndexEvent(32, 500_000, true)     // dropped index record

	snap = m.Snapshot()

	if snap.IndexEvents != 1 {
		t.Errorf("Expected 1 index event, got %d", snap.IndexEvents)
	}
	if snap.DetailEvents != 1 {
		t.Errorf("Expected 1 detail event, got %d", snap.DetailEvents)
	}
	if snap.IndexBytes != 32 {
		t.Errorf("Expected 32 index bytes, got %d", snap.IndexBytes)
	}
	if snap.DetailBytes != 128 {
		t.Errorf("Expected 128 detail bytes, got %d", snap.DetailBytes)
	}
	if snap.DroppedIndex != 1 {
		t.Errorf("Expected 1 dropped index event, got %d", snap.DroppedIndex)
	}

	expectedDropRate := float64(1) / float64(3) * 100.0
	if snap.DropRate < expectedDropRate-0.1 || snap.DropRate > expectedDropRate+0.1 {
		t.Errorf("Expected drop rate ~%.1f%%, got %.1f%%", expectedDropRate, snap.DropRate)
	}
}

func TestMetricsLaneDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordLaneDepth(10)
	m.RecordLaneDepth(20)
	m.RecordLaneDepth(15)

	snap := m.Snapshot()

	if snap.MaxLaneDepth != 20 {
		t.Errorf("Expected max lane depth 20, got %d", snap.MaxLaneDepth)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgLaneDepth < expectedAvg-0.1 || snap.AvgLaneDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg lane depth %.1f, got %.1f", expectedAvg, snap.AvgLaneDepth)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordIndexEvent(32, 1_000_000, false) // 1ms
	m.RecordIndexEvent(32, 2_000_000, false) // 2ms

	snap := m.Snapshot()

	expectedAvgNs := uint64(1_500_000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+2*1_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordIndexEvent(32, 1_000_000, false)
	m.RecordDetailEvent(128, false)
	m.RecordLaneDepth(10)

	snap := m.Snapshot()
	if snap.TotalEvents == 0 {
		t.Error("Expected some events before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalEvents != 0 {
		t.Errorf("Expected 0 events after reset, got %d", snap.TotalEvents)
	}
	if snap.IndexBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.IndexBytes)
	}
	if snap.MaxLaneDepth != 0 {
		t.Errorf("Expected 0 max lane depth after reset, got %d", snap.MaxLaneDepth)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveIndexEvent(32, 1_000_000, false)
	observer.ObserveDetailEvent(128, false)
	observer.ObserveDrainCycle(1, false)
	observer.ObservePersistenceDecision(true)
	observer.ObserveWrite(1024, true)
	observer.ObserveLaneDepth(10)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveIndexEvent(32, 1_000_000, false)
	metricsObserver.ObserveDetailEvent(128, false)

	snap := m.Snapshot()
	if snap.IndexEvents != 1 {
		t.Errorf("Expected 1 index event from observer, got %d", snap.IndexEvents)
	}
	if snap.DetailEvents != 1 {
		t.Errorf("Expected 1 detail event from observer, got %d", snap.DetailEvents)
	}
	if snap.IndexBytes != 32 {
		t.Errorf("Expected 32 index bytes from observer, got %d", snap.IndexBytes)
	}
	if snap.DetailBytes != 128 {
		t.Errorf("Expected 128 detail bytes from observer, got %d", snap.DetailBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordIndexEvent(32, 1_000_000, false)
	m.RecordDetailEvent(128, false)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	if snap.EventsPerSecond < 1.9 || snap.EventsPerSecond > 2.1 {
		t.Errorf("Expected EventsPerSecond ~2.0, got %.2f", snap.EventsPerSecond)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordIndexEvent(32, 500_000, false) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordIndexEvent(32, 5_000_000, false) // 5ms
	}
	m.RecordIndexEvent(32, 50_000_000, false) // 50ms, the single slowest

	snap := m.Snapshot()

	if snap.IndexEvents != 100 {
		t.Errorf("Expected 100 index events, got %d", snap.IndexEvents)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
