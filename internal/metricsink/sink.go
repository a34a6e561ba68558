package metricsink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/BaSui01/agentflow/internal/pool"
	"github.com/BaSui01/agentflow/llm"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// gormSink persists every update as an append-only row. It never blocks on
// the caller and is only ever invoked from inside BoundedSink's worker
// pool, never directly on the request path.
type gormSink struct {
	db *gorm.DB
}

func (s *gormSink) SyncAdapterMetrics(ctx context.Context, update llm.MetricsUpdate) error {
	row := AdapterMetricSample{
		ProviderID:       update.ProviderID,
		ModelID:          update.ModelID,
		APIKeyID:         update.APIKeyID,
		Success:          update.Success,
		ResponseTimeMS:   update.ResponseTimeMS,
		PromptTokens:     update.PromptTokens,
		CompletionTokens: update.CompletionTokens,
		RecordedAt:       update.At,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("persist adapter metric sample: %w", err)
	}
	if update.APIKeyID != 0 {
		err := s.db.WithContext(ctx).
			Table("llm_provider_apikeys").
			Where("id = ?", update.APIKeyID).
			UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error
		if err != nil {
			return fmt.Errorf("increment api key usage count: %w", err)
		}
	}
	return nil
}

func (s *gormSink) SyncAdapterHealth(ctx context.Context, update llm.HealthUpdate) error {
	status := update.Status
	if status == "" {
		if update.Healthy {
			status = "healthy"
		} else {
			status = "unhealthy"
		}
	}
	row := AdapterHealthLog{
		ProviderID: update.ProviderID,
		Healthy:    update.Healthy,
		Status:     status,
		CheckedAt:  update.CheckedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("persist adapter health log: %w", err)
	}
	return nil
}

// BoundedSink is the llm.MetricsSink wired by cmd/gateway. It fans each
// update out to a gorm-backed persistent log and a Prometheus mirror. The
// Prometheus series are updated in-process on the caller's goroutine; the
// gorm write is submitted as a fire-and-forget task to a small worker pool
// so a stalled database never adds latency to the request that triggered
// the update — a full queue drops the task and logs it, it never blocks
// the caller.
type BoundedSink struct {
	gorm   *gormSink
	prom   *prometheusMirror
	pool   *pool.GoroutinePool
	logger *zap.Logger
}

// NewBoundedSink builds a BoundedSink over db (persistence) and namespace
// (Prometheus metric prefix), running its own small worker pool.
func NewBoundedSink(db *gorm.DB, namespace string, logger *zap.Logger) *BoundedSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := pool.DefaultGoroutinePoolConfig()
	cfg.MaxWorkers = 8
	cfg.QueueSize = 256
	return &BoundedSink{
		gorm:   &gormSink{db: db},
		prom:   newPrometheusMirror(namespace),
		pool:   pool.NewGoroutinePool(cfg),
		logger: logger,
	}
}

func (s *BoundedSink) SyncAdapterMetrics(ctx context.Context, update llm.MetricsUpdate) error {
	status := "success"
	if !update.Success {
		status = "failure"
	}
	s.prom.requestsTotal.WithLabelValues(status).Inc()
	s.prom.requestDuration.WithLabelValues().Observe(update.ResponseTimeMS / 1000)
	s.prom.tokensUsed.WithLabelValues("prompt").Add(float64(update.PromptTokens))
	s.prom.tokensUsed.WithLabelValues("completion").Add(float64(update.CompletionTokens))

	err := s.pool.Submit(context.Background(), func(taskCtx context.Context) error {
		return s.gorm.SyncAdapterMetrics(taskCtx, update)
	})
	if err != nil {
		s.logger.Warn("metrics sink: dropped adapter metric sample", zap.Error(err))
	}
	return nil
}

func (s *BoundedSink) SyncAdapterHealth(ctx context.Context, update llm.HealthUpdate) error {
	s.prom.providerHealthy.WithLabelValues(strconv.FormatUint(update.ProviderID, 10)).Set(boolToFloat(update.Healthy))

	err := s.pool.Submit(context.Background(), func(taskCtx context.Context) error {
		return s.gorm.SyncAdapterHealth(taskCtx, update)
	})
	if err != nil {
		s.logger.Warn("metrics sink: dropped adapter health log", zap.Error(err))
	}
	return nil
}

// Close drains and stops the worker pool, waiting for in-flight tasks.
func (s *BoundedSink) Close() {
	s.pool.Close()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var _ llm.MetricsSink = (*BoundedSink)(nil)
