package rpc

import (
	"sort"
	"sync"
	"time"
)

// maxLatencySamples bounds per-operation latency history so a
// long-running daemon never grows without limit.
const maxLatencySamples = 1000

// Metrics tracks per-operation counters for the daemon. All methods are
// safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	requestCounts  map[string]int64
	requestErrors  map[string]int64
	requestLatency map[string][]time.Duration

	totalConns    int64
	rejectedConns int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		requestCounts:  make(map[string]int64),
		requestErrors:  make(map[string]int64),
		requestLatency: make(map[string][]time.Duration),
	}
}

// RecordRequest records one completed request and its latency.
func (m *Metrics) RecordRequest(operation string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCounts[operation]++
	samples := m.requestLatency[operation]
	if len(samples) >= maxLatencySamples {
		samples = samples[1:]
	}
	m.requestLatency[operation] = append(samples, latency)
}

// RecordError records one failed request.
func (m *Metrics) RecordError(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestErrors[operation]++
}

// RecordConnection records an accepted connection.
func (m *Metrics) RecordConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalConns++
}

// RecordRejectedConnection records a connection turned away at the
// semaphore.
func (m *Metrics) RecordRejectedConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectedConns++
}

// OperationStats summarizes one operation's history.
type OperationStats struct {
	Operation string  `json:"operation"`
	Count     int64   `json:"count"`
	Errors    int64   `json:"errors"`
	AvgMS     float64 `json:"avg_ms"`
	MaxMS     float64 `json:"max_ms"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalRequests int64            `json:"total_requests"`
	TotalErrors   int64            `json:"total_errors"`
	TotalConns    int64            `json:"total_conns"`
	RejectedConns int64            `json:"rejected_conns"`
	Operations    []OperationStats `json:"operations,omitempty"`
}

// Stats returns a consistent snapshot sorted by operation name.
func (m *Metrics) Stats() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{TotalConns: m.totalConns, RejectedConns: m.rejectedConns}
	names := make([]string, 0, len(m.requestCounts))
	for op := range m.requestCounts {
		names = append(names, op)
	}
	sort.Strings(names)

	for _, op := range names {
		st := OperationStats{Operation: op, Count: m.requestCounts[op], Errors: m.requestErrors[op]}
		if samples := m.requestLatency[op]; len(samples) > 0 {
			var total, max time.Duration
			for _, d := range samples {
				total += d
				if d > max {
					max = d
				}
			}
			st.AvgMS = float64(total.Microseconds()) / float64(len(samples)) / 1000
			st.MaxMS = float64(max.Microseconds()) / 1000
		}
		snap.TotalRequests += st.Count
		snap.TotalErrors += st.Errors
		snap.Operations = append(snap.Operations, st)
	}
	return snap
}
