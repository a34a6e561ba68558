package llm

import (
	"context"
	"time"
)

// MetricsUpdate carries one adapter's rolling metrics to a MetricsSink after
// a completed request.
type MetricsUpdate struct {
	ProviderID       uint64
	ModelID          uint64
	APIKeyID         uint64
	Success          bool
	ResponseTimeMS   float64
	PromptTokens     int64
	CompletionTokens int64
	At               time.Time
}

// HealthUpdate carries a health-check outcome to a MetricsSink.
type HealthUpdate struct {
	ProviderID uint64
	Healthy    bool
	Status     string // "healthy", "degraded", "unhealthy"
	CheckedAt  time.Time
}

// MetricsSink is the write interface the pool and router use to mirror
// metrics out of the hot path. Implementations (persistent store,
// Prometheus, or both) are best-effort: a sink failure is logged and
// swallowed, never propagated back to the request that triggered it.
type MetricsSink interface {
	SyncAdapterMetrics(ctx context.Context, update MetricsUpdate) error
	SyncAdapterHealth(ctx context.Context, update HealthUpdate) error
}

// NoopMetricsSink discards every update. Useful as a default when no sink
// is wired, e.g. in unit tests.
type NoopMetricsSink struct{}

func (NoopMetricsSink) SyncAdapterMetrics(context.Context, MetricsUpdate) error { return nil }
func (NoopMetricsSink) SyncAdapterHealth(context.Context, HealthUpdate) error   { return nil }
