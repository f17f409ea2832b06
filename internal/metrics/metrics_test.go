package metrics

import (
	"testing"
	"time"
)

func TestNew_StartTimeSet(t *testing.T) {
	before := time.Now()
	m := New()
	after := time.Now()

	if m.startTime.Before(before) || m.startTime.After(after) {
		t.Errorf("startTime %v not in expected range [%v, %v]", m.startTime, before, after)
	}
}

func TestZeroValue_SnapshotSafe(t *testing.T) {
	var m Metrics
	s := m.Snapshot()
	if s.Checkpoints != 0 {
		t.Errorf("expected 0 checkpoints, got %d", s.Checkpoints)
	}
}

func TestDetectionCounters(t *testing.T) {
	m := New()
	m.CheckpointsTotal.Add(10)
	m.RecordDetection("S1")
	m.RecordDetection("S2")
	m.RecordDetection("S2")
	m.RecordDetection("S3")

	s := m.Snapshot()
	if s.Checkpoints != 10 {
		t.Errorf("Checkpoints: got %d, want 10", s.Checkpoints)
	}
	if s.Detections.S1 != 1 {
		t.Errorf("S1: got %d, want 1", s.Detections.S1)
	}
	if s.Detections.S2 != 2 {
		t.Errorf("S2: got %d, want 2", s.Detections.S2)
	}
	if s.Detections.S3 != 1 {
		t.Errorf("S3: got %d, want 1", s.Detections.S3)
	}
}

func TestErrorCounters(t *testing.T) {
	m := New()
	m.ErrorsDetector.Add(3)
	m.ErrorsExtraction.Add(2)
	m.ErrorsPersistence.Add(1)

	s := m.Snapshot()
	if s.Errors.Detector != 3 {
		t.Errorf("Detector errors: got %d, want 3", s.Errors.Detector)
	}
	if s.Errors.Extraction != 2 {
		t.Errorf("Extraction errors: got %d, want 2", s.Errors.Extraction)
	}
	if s.Errors.Persistence != 1 {
		t.Errorf("Persistence errors: got %d, want 1", s.Errors.Persistence)
	}
}

func TestRedactionAndGuardCounters(t *testing.T) {
	m := New()
	m.RedactionsModel.Add(5)
	m.RedactionsRule.Add(1)
	m.GuardBlocks.Add(4)
	m.GuardAllows.Add(6)
	m.EntitiesExtracted.Add(9)

	s := m.Snapshot()
	if s.Redactions.Model != 5 {
		t.Errorf("RedactionsModel: got %d, want 5", s.Redactions.Model)
	}
	if s.Redactions.Rule != 1 {
		t.Errorf("RedactionsRule: got %d, want 1", s.Redactions.Rule)
	}
	if s.Guard.Blocks != 4 {
		t.Errorf("GuardBlocks: got %d, want 4", s.Guard.Blocks)
	}
	if s.Guard.Allows != 6 {
		t.Errorf("GuardAllows: got %d, want 6", s.Guard.Allows)
	}
	if s.EntitiesExtracted != 9 {
		t.Errorf("EntitiesExtracted: got %d, want 9", s.EntitiesExtracted)
	}
}

func TestLocalCacheCounters(t *testing.T) {
	m := New()
	m.LocalCacheHits.Add(3)
	m.LocalCacheMisses.Add(1)

	s := m.Snapshot()
	if s.LocalCache.Hits != 3 {
		t.Errorf("Hits: got %d, want 3", s.LocalCache.Hits)
	}
	if s.LocalCache.Misses != 1 {
		t.Errorf("Misses: got %d, want 1", s.LocalCache.Misses)
	}
}

func TestRecordDetectLatency_SingleSample(t *testing.T) {
	m := New()
	m.RecordDetectLatency(100 * time.Millisecond)

	s := m.Snapshot()
	if s.Latency.DetectionMs.Count != 1 {
		t.Errorf("Count: got %d, want 1", s.Latency.DetectionMs.Count)
	}
	if s.Latency.DetectionMs.MinMs < 90 || s.Latency.DetectionMs.MinMs > 110 {
		t.Errorf("MinMs: got %f, want ~100", s.Latency.DetectionMs.MinMs)
	}
}

func TestRecordModelLatency_MinMaxMean(t *testing.T) {
	m := New()
	m.RecordModelLatency(50 * time.Millisecond)
	m.RecordModelLatency(150 * time.Millisecond)
	m.RecordModelLatency(100 * time.Millisecond)

	s := m.Snapshot()
	ls := s.Latency.ModelMs
	if ls.Count != 3 {
		t.Errorf("Count: got %d, want 3", ls.Count)
	}
	if ls.MinMs > 60 {
		t.Errorf("MinMs too high: %f", ls.MinMs)
	}
	if ls.MaxMs < 140 {
		t.Errorf("MaxMs too low: %f", ls.MaxMs)
	}
	if ls.MeanMs < 90 || ls.MeanMs > 110 {
		t.Errorf("MeanMs: got %f, want ~100", ls.MeanMs)
	}
}

func TestSnapshotLatency_EmptyIsZeroValue(t *testing.T) {
	m := New()
	s := m.Snapshot()
	if s.Latency.DetectionMs.Count != 0 {
		t.Errorf("empty detection latency count should be 0")
	}
	if s.Latency.ModelMs.Count != 0 {
		t.Errorf("empty model latency count should be 0")
	}
}

func TestSnapshot_UptimePositive(t *testing.T) {
	m := New()
	time.Sleep(5 * time.Millisecond)
	s := m.Snapshot()
	if s.UptimeSecs <= 0 {
		t.Errorf("UptimeSecs should be positive, got %f", s.UptimeSecs)
	}
}

func TestRound2(t *testing.T) {
	cases := []struct {
		input float64
		want  float64
	}{
		{1.236, 1.24},
		{1.234, 1.23},
		{100.0, 100.0},
		{0.0, 0.0},
	}
	for _, c := range cases {
		got := round2(c.input)
		if got != c.want {
			t.Errorf("round2(%f) = %f, want %f", c.input, got, c.want)
		}
	}
}

func TestLatencyStats_Record(t *testing.T) {
	var s latencyStats
	s.record(10)
	s.record(20)
	s.record(15)

	snap := s.snapshot()
	if snap.Count != 3 {
		t.Errorf("Count: got %d, want 3", snap.Count)
	}
	if snap.MinMs != 10 {
		t.Errorf("MinMs: got %f, want 10", snap.MinMs)
	}
	if snap.MaxMs != 20 {
		t.Errorf("MaxMs: got %f, want 20", snap.MaxMs)
	}
	if snap.MeanMs != 15 {
		t.Errorf("MeanMs: got %f, want 15", snap.MeanMs)
	}
}

func TestLatencyStats_Empty(t *testing.T) {
	var s latencyStats
	snap := s.snapshot()
	if snap.Count != 0 || snap.MinMs != 0 || snap.MaxMs != 0 || snap.MeanMs != 0 {
		t.Errorf("empty stats snapshot should be zero, got %+v", snap)
	}
}
