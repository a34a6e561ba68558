package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name    string
	healthy bool
}

func (p *stubProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{}, nil
}
func (p *stubProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}
func (p *stubProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status := HealthHealthy
	if !p.healthy {
		status = HealthUnhealthy
	}
	return &HealthStatus{Status: status}, nil
}
func (p *stubProvider) Name() string                                   { return p.name }
func (p *stubProvider) SupportsNativeFunctionCalling() bool             { return false }
func (p *stubProvider) ListModels(ctx context.Context) ([]Model, error) { return nil, nil }

func testPoolConfig() PoolConfig {
	cfg := DefaultPoolConfig()
	cfg.NumShards = 1
	cfg.MaxPerShard = 2
	cfg.MaxIdle = time.Minute
	cfg.MaxUseCount = 1000
	cfg.AcquireWait = 200 * time.Millisecond
	cfg.AcquirePoll = 10 * time.Millisecond
	cfg.CleanupInterval = time.Hour
	cfg.HealthInterval = time.Hour
	return cfg
}

func TestAdapterPool_AcquireCreatesAndReuses(t *testing.T) {
	var builds int32
	factory := func(ctx context.Context, modelName, providerCode string) (Provider, error) {
		atomic.AddInt32(&builds, 1)
		return &stubProvider{name: providerCode, healthy: true}, nil
	}
	pool := NewAdapterPool(testPoolConfig(), factory, nil, nil)
	defer pool.Close()

	entry, err := pool.Acquire(context.Background(), "gpt-5", "openai", 1)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
	assert.Equal(t, uint64(1), entry.ProviderID)

	pool.Release(entry)

	entry2, err := pool.Acquire(context.Background(), "gpt-5", "openai", 1)
	require.NoError(t, err)
	assert.Same(t, entry, entry2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds), "a released entry should be reused, not rebuilt")
}

func TestAdapterPool_AcquireRespectsShardCapacity(t *testing.T) {
	factory := func(ctx context.Context, modelName, providerCode string) (Provider, error) {
		return &stubProvider{name: providerCode, healthy: true}, nil
	}
	cfg := testPoolConfig()
	cfg.MaxPerShard = 1
	cfg.AcquireWait = 50 * time.Millisecond
	pool := NewAdapterPool(cfg, factory, nil, nil)
	defer pool.Close()

	first, err := pool.Acquire(context.Background(), "gpt-5", "openai", 1)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = pool.Acquire(context.Background(), "gpt-5", "openai", 1)
	assert.Error(t, err, "second acquire should time out, shard is full and the only entry is in use")
}

func TestAdapterPool_AcquirePropagatesFactoryError(t *testing.T) {
	wantErr := errors.New("construction failed")
	factory := func(ctx context.Context, modelName, providerCode string) (Provider, error) {
		return nil, wantErr
	}
	pool := NewAdapterPool(testPoolConfig(), factory, nil, nil)
	defer pool.Close()

	_, err := pool.Acquire(context.Background(), "gpt-5", "openai", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestAdapterPool_MarkUnhealthyExcludesFromReuse(t *testing.T) {
	factory := func(ctx context.Context, modelName, providerCode string) (Provider, error) {
		return &stubProvider{name: providerCode, healthy: true}, nil
	}
	cfg := testPoolConfig()
	cfg.MaxPerShard = 1
	cfg.AcquireWait = 50 * time.Millisecond
	pool := NewAdapterPool(cfg, factory, nil, nil)
	defer pool.Close()

	entry, err := pool.Acquire(context.Background(), "gpt-5", "openai", 1)
	require.NoError(t, err)
	pool.MarkUnhealthy(entry)

	_, health, ok := pool.Peek("gpt-5", "openai")
	assert.True(t, ok)
	assert.Equal(t, HealthUnhealthy, health)

	_, err = pool.Acquire(context.Background(), "gpt-5", "openai", 1)
	assert.Error(t, err, "the only entry is unhealthy and the shard is full, so acquire must time out rather than hand it back")
}

func TestAdapterPool_PeekReportsNoEntryUntilCreated(t *testing.T) {
	factory := func(ctx context.Context, modelName, providerCode string) (Provider, error) {
		return &stubProvider{name: providerCode, healthy: true}, nil
	}
	pool := NewAdapterPool(testPoolConfig(), factory, nil, nil)
	defer pool.Close()

	_, _, ok := pool.Peek("gpt-5", "openai")
	assert.False(t, ok)

	entry, err := pool.Acquire(context.Background(), "gpt-5", "openai", 1)
	require.NoError(t, err)
	pool.Release(entry)

	_, health, ok := pool.Peek("gpt-5", "openai")
	assert.True(t, ok)
	assert.Equal(t, HealthHealthy, health)
}

func TestAdapterPool_Stats(t *testing.T) {
	factory := func(ctx context.Context, modelName, providerCode string) (Provider, error) {
		return &stubProvider{name: providerCode, healthy: true}, nil
	}
	pool := NewAdapterPool(testPoolConfig(), factory, nil, nil)
	defer pool.Close()

	entry, err := pool.Acquire(context.Background(), "gpt-5", "openai", 1)
	require.NoError(t, err)

	st := pool.Stats()
	assert.Equal(t, 1, st.TotalAdapters)
	assert.Equal(t, 0, st.AvailableAdapters, "entry is still in use")
	assert.Equal(t, 1, st.InUseAdapters)
	assert.Equal(t, int64(1), st.Misses)

	pool.Release(entry)
	st = pool.Stats()
	assert.Equal(t, 1, st.AvailableAdapters)
	assert.Equal(t, 0, st.InUseAdapters)

	pool.MarkUnhealthy(entry)
	st = pool.Stats()
	assert.Equal(t, 1, st.UnhealthyAdapters)
}
