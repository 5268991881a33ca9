package observability

import (
	"testing"
	"time"
)

func TestStats_CountsAndBreakdowns(t *testing.T) {
	s := NewStats()

	for i := 0; i < 5; i++ {
		s.Begin()
		s.End("submit", "/v1/sprites", 200, time.Duration(i+1)*10*time.Millisecond, true)
	}
	s.Begin()
	s.End("submit", "/v1/sprites", 500, 100*time.Millisecond, false)
	s.Begin()

	snap := s.Snapshot()
	if snap.Total != 6 || snap.Successful != 5 || snap.Failed != 1 {
		t.Fatalf("counts = (%d, %d, %d), want (6, 5, 1)", snap.Total, snap.Successful, snap.Failed)
	}
	if snap.InFlight != 1 {
		t.Fatalf("in flight = %d, want 1", snap.InFlight)
	}
	if snap.ByStatus[200] != 5 || snap.ByStatus[500] != 1 {
		t.Fatalf("by status = %v", snap.ByStatus)
	}
	if snap.ByOperation["submit"] != 6 {
		t.Fatalf("by operation = %v", snap.ByOperation)
	}
}

func TestStats_LatencyPercentiles(t *testing.T) {
	s := NewStats()
	for i := 1; i <= 100; i++ {
		s.Begin()
		s.End("op", "/x", 200, time.Duration(i)*time.Millisecond, true)
	}
	snap := s.Snapshot()
	lat := snap.LatencyMS
	if lat.Min != 1 || lat.Max != 100 {
		t.Fatalf("min/max = %v/%v, want 1/100", lat.Min, lat.Max)
	}
	if lat.P50 != 50 || lat.P95 != 95 || lat.P99 != 99 {
		t.Fatalf("p50/p95/p99 = %v/%v/%v, want 50/95/99", lat.P50, lat.P95, lat.P99)
	}
	if lat.Avg < 50 || lat.Avg > 51 {
		t.Fatalf("avg = %v, want ~50.5", lat.Avg)
	}
}

func TestStats_ResetPreservesInFlight(t *testing.T) {
	s := NewStats()
	s.Begin()
	s.Begin()
	s.End("op", "/x", 200, time.Millisecond, true)
	s.Reset()

	snap := s.Snapshot()
	if snap.Total != 0 || snap.Successful != 0 || snap.Failed != 0 {
		t.Fatalf("counters survived reset: %+v", snap)
	}
	if snap.InFlight != 1 {
		t.Fatalf("in flight after reset = %d, want 1", snap.InFlight)
	}
}
