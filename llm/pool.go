package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AdapterState is the lifecycle state of one pooled adapter instance.
type AdapterState string

const (
	AdapterAvailable AdapterState = "available"
	AdapterInUse     AdapterState = "in_use"
	AdapterUnhealthy AdapterState = "unhealthy"
	AdapterExpired   AdapterState = "expired"
)

// AdapterFactory builds a live Provider for one (model, provider) pairing,
// resolving the provider's base URL, default model and credentials from the
// catalogue. It is always invoked outside any pool shard lock.
type AdapterFactory func(ctx context.Context, modelName, providerCode string) (Provider, error)

// PooledEntry is one adapter instance living inside a pool shard.
type PooledEntry struct {
	Provider        Provider
	ModelName       string
	ProviderCode    string
	ProviderID      uint64
	State           AdapterState
	Health          HealthState
	CreatedAt       time.Time
	LastUsedAt      time.Time
	UseCount        int
	LastHealthCheck time.Time
	Metrics         *MetricsRecord

	maxIdle     time.Duration
	maxUseCount int
}

type shard struct {
	mu      sync.Mutex
	entries []*PooledEntry
}

// PoolConfig tunes AdapterPool behavior.
type PoolConfig struct {
	NumShards       int           // always >= 1; NumShards == 1 degenerates to a single shard, not a special code path
	MaxPerShard     int           // ceiling on live adapters per shard
	MaxIdle         time.Duration // idle duration before an entry is retired
	MaxUseCount     int           // requests served before an entry is retired
	AcquireWait     time.Duration // total time acquire() will poll for a free slot
	AcquirePoll     time.Duration // poll interval while waiting
	CleanupInterval time.Duration
	HealthInterval  time.Duration
}

// DefaultPoolConfig mirrors the reference implementation's tuning.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumShards:       16,
		MaxPerShard:     20,
		MaxIdle:         5 * time.Minute,
		MaxUseCount:     1000,
		AcquireWait:     5 * time.Second,
		AcquirePoll:     100 * time.Millisecond,
		CleanupInterval: 30 * time.Second,
		HealthInterval:  180 * time.Second,
	}
}

// AdapterPool is a sharded cache of live provider adapter instances, keyed
// by (model, provider) pair. It exists so a hot model/provider combination
// doesn't pay adapter-construction cost (HTTP client setup, credential
// resolution) on every request, while bounding how many concurrent
// instances of any one pairing exist.
//
// Sharding reduces lock contention: acquire/release only ever take one
// shard's mutex, never a pool-wide lock. NumShards == 1 is the same code
// path with a single shard, not a branch.
type AdapterPool struct {
	cfg     PoolConfig
	shards  []*shard
	factory AdapterFactory
	sink    MetricsSink
	logger  *zap.Logger

	hits   atomicCounter
	misses atomicCounter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type atomicCounter struct {
	mu sync.Mutex
	n  int64
}

func (c *atomicCounter) add(d int64) {
	c.mu.Lock()
	c.n += d
	c.mu.Unlock()
}

func (c *atomicCounter) get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// NewAdapterPool constructs a pool and starts its background janitor and
// health-check loops. Call Close to stop them.
func NewAdapterPool(cfg PoolConfig, factory AdapterFactory, sink MetricsSink, logger *zap.Logger) *AdapterPool {
	if cfg.NumShards < 1 {
		cfg.NumShards = 1
	}
	if sink == nil {
		sink = NoopMetricsSink{}
	}
	shards := make([]*shard, cfg.NumShards)
	for i := range shards {
		shards[i] = &shard{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &AdapterPool{
		cfg:     cfg,
		shards:  shards,
		factory: factory,
		sink:    sink,
		logger:  logger,
		cancel:  cancel,
	}
	p.wg.Add(2)
	go p.janitorLoop(ctx)
	go p.healthLoop(ctx)
	return p
}

func (p *AdapterPool) shardFor(modelName, providerCode string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(modelName + ":" + providerCode))
	return p.shards[int(h.Sum32())%len(p.shards)]
}

// Acquire returns a live adapter for (modelName, providerCode), reusing an
// idle pooled instance when one exists, constructing a fresh one when the
// shard has room, or waiting up to cfg.AcquireWait for either to happen.
func (p *AdapterPool) Acquire(ctx context.Context, modelName, providerCode string, providerID uint64) (*PooledEntry, error) {
	s := p.shardFor(modelName, providerCode)

	if entry := p.takeAvailable(s, modelName, providerCode); entry != nil {
		p.hits.add(1)
		return entry, nil
	}

	if entry, err := p.tryCreate(ctx, s, modelName, providerCode, providerID); err != nil {
		return nil, err
	} else if entry != nil {
		p.misses.add(1)
		return entry, nil
	}

	return p.waitForAvailable(ctx, s, modelName, providerCode, providerID)
}

// takeAvailable scans the shard under its lock for a reusable entry,
// retiring any that have gone idle too long or seen too much traffic.
func (p *AdapterPool) takeAvailable(s *shard, modelName, providerCode string) *PooledEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, e := range s.entries {
		if e.State != AdapterAvailable || e.ModelName != modelName || e.ProviderCode != providerCode {
			continue
		}
		if now.Sub(e.LastUsedAt) > e.maxIdle {
			e.State = AdapterExpired
			continue
		}
		if e.UseCount >= e.maxUseCount {
			e.State = AdapterExpired
			continue
		}
		e.State = AdapterInUse
		e.LastUsedAt = now
		e.UseCount++
		return e
	}
	return nil
}

// tryCreate checks that the shard is under capacity, then builds the
// adapter OUTSIDE the shard lock, so a slow provider construction (DNS,
// TLS handshake setup) never blocks other goroutines touching the same
// shard. No slot is held during construction: capacity is checked again
// under the lock before the entry is inserted, and a shard that filled up
// meanwhile causes the new adapter to be dropped.
func (p *AdapterPool) tryCreate(ctx context.Context, s *shard, modelName, providerCode string, providerID uint64) (*PooledEntry, error) {
	s.mu.Lock()
	if len(s.entries) >= p.cfg.MaxPerShard {
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()

	provider, err := p.factory(ctx, modelName, providerCode)
	if err != nil {
		return nil, fmt.Errorf("construct adapter for %s/%s: %w", modelName, providerCode, err)
	}

	now := time.Now()
	entry := &PooledEntry{
		Provider:     provider,
		ModelName:    modelName,
		ProviderCode: providerCode,
		ProviderID:   providerID,
		State:        AdapterInUse,
		Health:       HealthHealthy,
		CreatedAt:    now,
		LastUsedAt:   now,
		UseCount:     1,
		Metrics:      NewMetricsRecord(0, 0),
		maxIdle:      p.cfg.MaxIdle,
		maxUseCount:  p.cfg.MaxUseCount,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) >= p.cfg.MaxPerShard {
		// Lost the race while building; drop it rather than exceed capacity.
		return nil, nil
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

// waitForAvailable polls the shard until a slot frees up, capacity opens,
// or ctx/the configured wait budget expires.
func (p *AdapterPool) waitForAvailable(ctx context.Context, s *shard, modelName, providerCode string, providerID uint64) (*PooledEntry, error) {
	deadline := time.Now().Add(p.cfg.AcquireWait)
	ticker := time.NewTicker(p.cfg.AcquirePoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if entry := p.takeAvailable(s, modelName, providerCode); entry != nil {
				p.hits.add(1)
				return entry, nil
			}
			if entry, err := p.tryCreate(ctx, s, modelName, providerCode, providerID); err != nil {
				return nil, err
			} else if entry != nil {
				p.misses.add(1)
				return entry, nil
			}
			if time.Now().After(deadline) {
				return nil, NewError(ErrPoolWaitTimeout, fmt.Sprintf("timed out waiting for adapter %s/%s", modelName, providerCode)).WithRetryable(true)
			}
		}
	}
}

// Release returns an in-use entry to the available state.
func (p *AdapterPool) Release(entry *PooledEntry) {
	s := p.shardFor(entry.ModelName, entry.ProviderCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.State == AdapterInUse {
		entry.State = AdapterAvailable
		entry.LastUsedAt = time.Now()
	}
}

// MarkUnhealthy flags an entry so the janitor retires it on its next pass.
func (p *AdapterPool) MarkUnhealthy(entry *PooledEntry) {
	s := p.shardFor(entry.ModelName, entry.ProviderCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.State = AdapterUnhealthy
}

func (p *AdapterPool) janitorLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepExpired()
		}
	}
}

func (p *AdapterPool) sweepExpired() {
	now := time.Now()
	for _, s := range p.shards {
		s.mu.Lock()
		kept := s.entries[:0]
		for _, e := range s.entries {
			if e.State == AdapterUnhealthy || e.State == AdapterExpired {
				continue
			}
			if now.Sub(e.LastUsedAt) > e.maxIdle && e.State == AdapterAvailable {
				continue
			}
			if e.UseCount >= e.maxUseCount && e.State == AdapterAvailable {
				continue
			}
			kept = append(kept, e)
		}
		s.entries = kept
		s.mu.Unlock()
	}
}

func (p *AdapterPool) healthLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAllHealth(ctx)
		}
	}
}

func (p *AdapterPool) checkAllHealth(ctx context.Context) {
	for _, s := range p.shards {
		s.mu.Lock()
		snapshot := append([]*PooledEntry(nil), s.entries...)
		s.mu.Unlock()

		for _, e := range snapshot {
			if e.State == AdapterInUse {
				continue // don't probe an entry a live request is using
			}
			status, err := e.Provider.HealthCheck(ctx)
			now := time.Now()
			e.LastHealthCheck = now
			state := HealthUnhealthy
			if err == nil && status != nil {
				state = status.Status
			}
			e.Health = state
			if state == HealthUnhealthy {
				p.MarkUnhealthy(e)
			}
			if syncErr := p.sink.SyncAdapterHealth(ctx, HealthUpdate{
				ProviderID: e.ProviderID,
				Healthy:    state == HealthHealthy,
				Status:     string(state),
				CheckedAt:  now,
			}); syncErr != nil && p.logger != nil {
				p.logger.Warn("metrics sink health sync failed", zap.Error(syncErr))
			}
		}
	}
}

// Peek reports the live health/metrics state the pool holds for
// (modelName, providerCode), without acquiring the entry for use. The
// router calls this to score candidates; ok is false when no pooled
// instance exists yet for that pairing, in which case the caller should
// fall back to an optimistic default. An entry whose pool lifecycle state
// has been marked AdapterUnhealthy always reports HealthUnhealthy,
// regardless of what its last probe recorded.
func (p *AdapterPool) Peek(modelName, providerCode string) (metrics MetricsRecord, health HealthState, ok bool) {
	s := p.shardFor(modelName, providerCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ModelName != modelName || e.ProviderCode != providerCode {
			continue
		}
		if e.Metrics != nil {
			metrics = e.Metrics.Snapshot()
		}
		health = e.Health
		if e.State == AdapterUnhealthy {
			health = HealthUnhealthy
		}
		if health == "" {
			health = HealthHealthy
		}
		return metrics, health, true
	}
	return MetricsRecord{}, "", false
}

// Stats summarizes pool occupancy across all shards.
type Stats struct {
	TotalAdapters     int
	AvailableAdapters int
	InUseAdapters     int
	UnhealthyAdapters int
	ExpiredAdapters   int
	Shards            int
	Hits              int64
	Misses            int64
}

// Stats returns a point-in-time snapshot of pool occupancy.
func (p *AdapterPool) Stats() Stats {
	st := Stats{Shards: len(p.shards), Hits: p.hits.get(), Misses: p.misses.get()}
	for _, s := range p.shards {
		s.mu.Lock()
		st.TotalAdapters += len(s.entries)
		for _, e := range s.entries {
			switch e.State {
			case AdapterAvailable:
				st.AvailableAdapters++
			case AdapterInUse:
				st.InUseAdapters++
			case AdapterUnhealthy:
				st.UnhealthyAdapters++
			case AdapterExpired:
				st.ExpiredAdapters++
			}
		}
		s.mu.Unlock()
	}
	return st
}

// Close stops the background loops. It does not forcibly interrupt
// in-flight requests holding pooled adapters.
func (p *AdapterPool) Close() {
	p.cancel()
	p.wg.Wait()
}
