package llm

import (
	"sync"
	"time"
)

// MetricsRecord is the rolling per-adapter metrics window the router scores
// candidates against. One record lives per pooled adapter instance, which
// the pool keys by (model, provider); it is updated after every completed
// request and consulted, never persisted, on the hot path.
type MetricsRecord struct {
	mu sync.RWMutex

	ResponseTimeMS  float64 // last-sample response time, not an average
	SuccessRate     float64 // incrementally updated, see Update
	TotalRequests   int64
	TotalTokens     int64
	ErrorCount      int64
	LastHealthCheck time.Time

	costPerInputToken  float64
	costPerOutputToken float64
}

// NewMetricsRecord returns a fresh record seeded with an optimistic 100%
// success rate so a brand-new adapter isn't penalized before it has data.
func NewMetricsRecord(costInput, costOutput float64) *MetricsRecord {
	return &MetricsRecord{
		SuccessRate:        1.0,
		costPerInputToken:  costInput,
		costPerOutputToken: costOutput,
	}
}

// Update folds one completed request into the rolling window.
//
//	success_rate' = (success_rate * total_requests + (success ? 1 : 0)) / (total_requests + 1)
//
// response_time is replaced by the latest sample rather than averaged, per
// the routing design's deliberate choice to weight recency over smoothness.
func (m *MetricsRecord) Update(success bool, responseTimeMS float64, tokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome := 0.0
	if success {
		outcome = 1.0
	} else {
		m.ErrorCount++
	}
	m.SuccessRate = (m.SuccessRate*float64(m.TotalRequests) + outcome) / float64(m.TotalRequests+1)
	m.TotalRequests++
	m.TotalTokens += tokens
	m.ResponseTimeMS = responseTimeMS
}

// MarkHealthCheck records that a health probe ran, regardless of outcome.
func (m *MetricsRecord) MarkHealthCheck(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastHealthCheck = at
}

// Snapshot returns a copy safe to read without holding the record's lock.
func (m *MetricsRecord) Snapshot() MetricsRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsRecord{
		ResponseTimeMS:  m.ResponseTimeMS,
		SuccessRate:     m.SuccessRate,
		TotalRequests:   m.TotalRequests,
		TotalTokens:     m.TotalTokens,
		ErrorCount:      m.ErrorCount,
		LastHealthCheck: m.LastHealthCheck,
	}
}

// GetCostEstimate projects the USD cost of a request with the given token
// split against this adapter's configured per-token pricing.
func (m *MetricsRecord) GetCostEstimate(promptTokens, completionTokens int64) float64 {
	return float64(promptTokens)*m.costPerInputToken/1000 + float64(completionTokens)*m.costPerOutputToken/1000
}

// GetPerformanceScore combines response time and success rate into a single
// [0,1] figure of merit, cheaper than the router's full weighted formula.
// Neither the router nor the pool's janitor/health loops call it.
func (m *MetricsRecord) GetPerformanceScore() float64 {
	snap := m.Snapshot()
	if snap.TotalRequests == 0 {
		return 1.0
	}
	// 5s response time is treated as the floor of acceptable latency.
	latencyScore := 1.0
	if snap.ResponseTimeMS > 0 {
		latencyScore = 5000.0 / (5000.0 + snap.ResponseTimeMS)
	}
	return 0.5*latencyScore + 0.5*snap.SuccessRate
}
