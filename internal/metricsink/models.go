package metricsink

import "time"

// AdapterMetricSample is an append-only gorm row recording one completed
// adapter invocation. It backs the persistent half of gormSink; the
// Prometheus mirror covers the aggregate/alerting half.
type AdapterMetricSample struct {
	ID               uint64 `gorm:"primaryKey;autoIncrement"`
	ProviderID       uint64 `gorm:"column:provider_id;not null;index:idx_metric_provider_model"`
	ModelID          uint64 `gorm:"column:model_id;not null;index:idx_metric_provider_model"`
	APIKeyID         uint64 `gorm:"column:api_key_id"`
	Success          bool   `gorm:"column:success"`
	ResponseTimeMS   float64 `gorm:"column:response_time_ms"`
	PromptTokens     int64  `gorm:"column:prompt_tokens"`
	CompletionTokens int64  `gorm:"column:completion_tokens"`
	RecordedAt       time.Time `gorm:"column:recorded_at;index"`
}

func (AdapterMetricSample) TableName() string { return "llm_adapter_metric_samples" }

// AdapterHealthLog is an append-only gorm row recording one health-check
// outcome for a provider.
type AdapterHealthLog struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	ProviderID uint64    `gorm:"column:provider_id;not null;index"`
	Healthy    bool      `gorm:"column:healthy"`
	Status     string    `gorm:"column:status;size:20"`
	CheckedAt  time.Time `gorm:"column:checked_at;index"`
}

func (AdapterHealthLog) TableName() string { return "llm_adapter_health_logs" }

// AllTables lists every gorm model this package owns, for AutoMigrate.
func AllTables() []any {
	return []any{&AdapterMetricSample{}, &AdapterHealthLog{}}
}
