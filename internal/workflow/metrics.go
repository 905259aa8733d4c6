package workflow

import (
	"sync"
	"time"
)

// ActionSummary aggregates the outcomes of one session action.
type ActionSummary struct {
	TotalRequests    int64          `json:"total_requests"`
	FailedRequests   int64          `json:"failed_requests"`
	SuccessRate      float64        `json:"success_rate"`
	AverageLatencyMs float64        `json:"average_latency_ms"`
	FailuresByKind   map[Kind]int64 `json:"failures_by_kind,omitempty"`
}

// MetricsSummary is the aggregated view served by the metrics endpoint.
type MetricsSummary struct {
	Sessions int                      `json:"sessions"`
	Actions  map[string]ActionSummary `json:"actions"`
}

// Metrics counts action outcomes across sessions. A nil *Metrics records
// nothing.
type Metrics struct {
	mu      sync.Mutex
	actions map[string]*actionStats
}

type actionStats struct {
	total   int64
	failed  int64
	latency time.Duration
	kinds   map[Kind]int64
}

// NewMetrics returns empty counters.
func NewMetrics() *Metrics {
	return &Metrics{actions: make(map[string]*actionStats)}
}

func (m *Metrics) record(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.actions[op]
	if !ok {
		st = &actionStats{kinds: make(map[Kind]int64)}
		m.actions[op] = st
	}
	st.total++
	st.latency += elapsed
	if err != nil {
		st.failed++
		st.kinds[KindOf(err)]++
	}
}

// Summary returns per-action totals.
func (m *Metrics) Summary() map[string]ActionSummary {
	out := make(map[string]ActionSummary)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for op, st := range m.actions {
		sum := ActionSummary{
			TotalRequests:  st.total,
			FailedRequests: st.failed,
		}
		if st.total > 0 {
			sum.SuccessRate = float64(st.total-st.failed) / float64(st.total)
			sum.AverageLatencyMs = float64(st.latency.Microseconds()) / 1000 / float64(st.total)
		}
		if len(st.kinds) > 0 {
			sum.FailuresByKind = make(map[Kind]int64, len(st.kinds))
			for k, n := range st.kinds {
				sum.FailuresByKind[k] = n
			}
		}
		out[op] = sum
	}
	return out
}
