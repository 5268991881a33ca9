package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// statsSampleCap bounds the in-memory latency sample used for percentiles.
const statsSampleCap = 2048

// Stats is an in-memory operation tracker for the /v1/stats endpoint:
// counts, latency percentiles, and per-dimension breakdowns. Prometheus
// remains the scrape surface; this gives operators a cheap JSON snapshot.
type Stats struct {
	mu        sync.Mutex
	startedAt time.Time

	total      int64
	successful int64
	failed     int64
	inFlight   int64

	samples []float64 // milliseconds, ring buffer
	next    int
	filled  bool

	byStatus    map[int]int64
	byOperation map[string]int64
	byEndpoint  map[string]int64
}

// NewStats constructs an empty tracker.
func NewStats() *Stats {
	return &Stats{
		startedAt:   time.Now(),
		samples:     make([]float64, 0, statsSampleCap),
		byStatus:    map[int]int64{},
		byOperation: map[string]int64{},
		byEndpoint:  map[string]int64{},
	}
}

// Begin marks an operation in flight.
func (s *Stats) Begin() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

// End records the outcome of an operation started with Begin.
func (s *Stats) End(operation, endpoint string, status int, elapsed time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	s.total++
	if ok {
		s.successful++
	} else {
		s.failed++
	}
	s.byStatus[status]++
	if operation != "" {
		s.byOperation[operation]++
	}
	if endpoint != "" {
		s.byEndpoint[endpoint]++
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	if len(s.samples) < statsSampleCap {
		s.samples = append(s.samples, ms)
	} else {
		s.samples[s.next] = ms
		s.next = (s.next + 1) % statsSampleCap
		s.filled = true
	}
}

// Snapshot is the exported view of the tracker.
type Snapshot struct {
	Total       int64            `json:"total"`
	Successful  int64            `json:"successful"`
	Failed      int64            `json:"failed"`
	InFlight    int64            `json:"in_flight"`
	LatencyMS   LatencySummary   `json:"latency_ms"`
	ByStatus    map[int]int64    `json:"by_status"`
	ByOperation map[string]int64 `json:"by_operation"`
	ByEndpoint  map[string]int64 `json:"by_endpoint"`
	Throughput  float64          `json:"throughput_per_s"`
	ElapsedS    float64          `json:"elapsed_s"`
}

// LatencySummary aggregates the latency sample.
type LatencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Snapshot computes the current view without disturbing in-flight tracking.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Total:       s.total,
		Successful:  s.successful,
		Failed:      s.failed,
		InFlight:    s.inFlight,
		ByStatus:    map[int]int64{},
		ByOperation: map[string]int64{},
		ByEndpoint:  map[string]int64{},
	}
	for k, v := range s.byStatus {
		snap.ByStatus[k] = v
	}
	for k, v := range s.byOperation {
		snap.ByOperation[k] = v
	}
	for k, v := range s.byEndpoint {
		snap.ByEndpoint[k] = v
	}

	elapsed := time.Since(s.startedAt).Seconds()
	snap.ElapsedS = elapsed
	if elapsed > 0 {
		snap.Throughput = float64(s.successful) / elapsed
	}

	if len(s.samples) > 0 {
		sorted := make([]float64, len(s.samples))
		copy(sorted, s.samples)
		sort.Float64s(sorted)
		sum := 0.0
		for _, v := range sorted {
			sum += v
		}
		snap.LatencyMS = LatencySummary{
			Min: sorted[0],
			Max: sorted[len(sorted)-1],
			Avg: sum / float64(len(sorted)),
			P50: percentile(sorted, 50),
			P95: percentile(sorted, 95),
			P99: percentile(sorted, 99),
		}
	}
	return snap
}

// Reset clears counters and samples but never cancels in-flight tracking.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = 0
	s.successful = 0
	s.failed = 0
	s.samples = s.samples[:0]
	s.next = 0
	s.filled = false
	s.byStatus = map[int]int64{}
	s.byOperation = map[string]int64{}
	s.byEndpoint = map[string]int64{}
	s.startedAt = time.Now()
}

// percentile uses nearest-rank on a sorted sample.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
