package llm

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
)

// RouterWeights tunes how the scoring formula blends its three signals.
// They are expected to sum to 1.0; the selected link's share of total
// candidate link weight is added on top (not controlled by these weights),
// mirroring how a configured link weight nudges scoring without a
// dedicated knob of its own.
type RouterWeights struct {
	ResponseTime float64
	Cost         float64
	SuccessRate  float64
}

// DefaultRouterWeights are the compiled-in scoring defaults; callers may
// override them via RouterConfig.
var DefaultRouterWeights = RouterWeights{
	ResponseTime: 0.4,
	Cost:         0.3,
	SuccessRate:  0.3,
}

// RouterConfig tunes Router behavior.
type RouterConfig struct {
	Weights RouterWeights
}

// DefaultRouterConfig matches the reference implementation's default
// weighting.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Weights: DefaultRouterWeights,
	}
}

// candidate is one routable (model-provider-link, api-key) pairing, scored
// and selected against.
type candidate struct {
	link     ModelProviderLink
	provider ProviderDescriptor
	apiKey   *APIKeyDescriptor
	metrics  MetricsRecord
	health   HealthState
	score    float64
}

// Router selects which provider and API key should serve a given model
// request. It consults the Catalogue for candidates and the pool's live
// MetricsRecord for each one's recent performance; it never queries a
// database directly.
type Router struct {
	catalogue Catalogue
	pool      *AdapterPool
	cfg       RouterConfig
	logger    *zap.Logger
}

// NewRouter builds a Router bound to a catalogue and adapter pool.
func NewRouter(catalogue Catalogue, pool *AdapterPool, cfg RouterConfig, logger *zap.Logger) *Router {
	return &Router{catalogue: catalogue, pool: pool, cfg: cfg, logger: logger}
}

// Selection is the outcome of routing: a provider/key pair the caller
// should use to acquire and invoke an adapter.
type Selection struct {
	Provider ProviderDescriptor
	APIKey   *APIKeyDescriptor
	Link     ModelProviderLink
	Score    float64
}

// SelectProvider picks a provider (and credential) for modelName. It
// filters out unhealthy candidates, falling back to the single
// least-degraded one if every candidate would otherwise be excluded; scores
// the survivors by response time, cost and success rate plus link-weight
// share; then selects among preferred candidates first (if any exist),
// drawing a weighted random pick by link weight among the resulting pool.
func (r *Router) SelectProvider(ctx context.Context, modelName string) (*Selection, error) {
	links, err := r.catalogue.ModelProviderLinks(ctx, modelName)
	if err != nil {
		return nil, fmt.Errorf("lookup model provider links: %w", err)
	}
	if len(links) == 0 {
		return nil, NewError(ErrModelNotAvailable, fmt.Sprintf("no provider serves model %q", modelName))
	}

	candidates := make([]candidate, 0, len(links))
	totalLinkWeight := 0.0
	for _, link := range links {
		if !link.Enabled {
			continue
		}
		provider, err := r.catalogue.ProviderByID(ctx, link.ProviderID)
		if err != nil || provider == nil || !provider.Enabled {
			continue
		}
		apiKey, err := r.catalogue.BestAPIKey(ctx, provider.ID)
		if err != nil || apiKey == nil {
			continue
		}
		health, metrics := r.liveStateFor(link.RemoteModelName, *provider)
		candidates = append(candidates, candidate{link: link, provider: *provider, apiKey: apiKey, metrics: metrics, health: health})
		totalLinkWeight += candidateWeight(link)
	}

	if len(candidates) == 0 {
		return nil, NewError(ErrNoProvider, fmt.Sprintf("no provider available for model %q", modelName)).WithRetryable(true)
	}

	pool := excludeUnhealthy(candidates)
	if len(pool) == 0 {
		// Every candidate would be filtered out; fall back to the single
		// least-degraded one rather than fail the request outright.
		pool = []candidate{leastDegraded(candidates)}
	}

	for i := range pool {
		pool[i].score = r.score(pool[i], totalLinkWeight)
	}

	chosen := r.weightedPick(pool)
	return &Selection{Provider: chosen.provider, APIKey: chosen.apiKey, Link: chosen.link, Score: chosen.score}, nil
}

// excludeUnhealthy drops every Unhealthy candidate, preserving order.
func excludeUnhealthy(candidates []candidate) []candidate {
	out := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.health != HealthUnhealthy {
			out = append(out, c)
		}
	}
	return out
}

// leastDegraded returns the candidate with the best health rank (Healthy >
// Degraded > Unhealthy), first one wins ties.
func leastDegraded(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.health.Rank() > best.health.Rank() {
			best = c
		}
	}
	return best
}

// liveStateFor looks up the pool's live entry for (remoteModel, provider
// code), if one has been created yet, and reports its tri-state health
// alongside its current metrics snapshot. A pairing the pool hasn't built
// an adapter for yet (no traffic served) defaults to Healthy with an
// optimistic success rate, so routing doesn't penalize cold candidates.
func (r *Router) liveStateFor(remoteModel string, p ProviderDescriptor) (HealthState, MetricsRecord) {
	optimistic := MetricsRecord{SuccessRate: 1.0}
	if r.pool == nil {
		return HealthHealthy, optimistic
	}
	metrics, health, ok := r.pool.Peek(remoteModel, p.Code)
	if !ok {
		return HealthHealthy, optimistic
	}
	return health, metrics
}

// score combines response time, cost and success rate per the configured
// weights, then adds the link's share of total candidate link weight:
//
//	score = perfWeight*responseTimeScore + costWeight*costScore +
//	        successWeight*successRateScore + linkWeight/sum(linkWeights)
//
// responseTimeScore = max(0, 1 - response_time_s/10), costScore =
// max(0, 1 - cost_per_1k_tokens/0.1).
func (r *Router) score(c candidate, totalLinkWeight float64) float64 {
	w := r.cfg.Weights

	responseTimeS := c.metrics.ResponseTimeMS / 1000.0
	respScore := 1.0 - responseTimeS/10.0
	if respScore < 0 {
		respScore = 0
	}

	costPer1k := (c.link.PriceInput + c.link.PriceOutput) / 2.0
	costScore := 1.0 - costPer1k/0.1
	if costScore < 0 {
		costScore = 0
	}

	successScore := c.metrics.SuccessRate

	var weightShare float64
	if totalLinkWeight > 0 {
		weightShare = candidateWeight(c.link) / totalLinkWeight
	}

	return w.ResponseTime*respScore + w.Cost*costScore + w.SuccessRate*successScore + weightShare
}

// candidateWeight is a link's configured weight, floored to 1 so an
// unset/zero weight still participates in weighted selection instead of
// vanishing from it.
func candidateWeight(link ModelProviderLink) float64 {
	if link.Weight <= 0 {
		return 1
	}
	return float64(link.Weight)
}

// weightedPick selects one candidate: candidates marked preferred at the
// link level are considered exclusively whenever any exist; the final draw
// is a cumulative-weight random scan over the surviving pool's link
// weights, not their scores — scoring has already done its job filtering
// and ranking upstream. Candidates are stably pre-sorted by score
// (descending), then preference, then lowest response time, then api-key
// weight, which fixes the order of the scan; the draw itself is random, so
// candidates of equal link weight are picked with equal probability.
func (r *Router) weightedPick(candidates []candidate) candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.link.Preferred != b.link.Preferred {
			return a.link.Preferred
		}
		if a.metrics.ResponseTimeMS != b.metrics.ResponseTimeMS {
			return a.metrics.ResponseTimeMS < b.metrics.ResponseTimeMS
		}
		return apiKeyWeight(a) > apiKeyWeight(b)
	})

	pool := candidates
	preferred := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.link.Preferred {
			preferred = append(preferred, c)
		}
	}
	if len(preferred) > 0 {
		pool = preferred
	}

	total := 0.0
	for _, c := range pool {
		total += candidateWeight(c.link)
	}
	if total <= 0 {
		return pool[0]
	}

	target := rand.Float64() * total
	cum := 0.0
	for _, c := range pool {
		cum += candidateWeight(c.link)
		if target <= cum {
			return c
		}
	}
	return pool[len(pool)-1]
}

func apiKeyWeight(c candidate) int {
	if c.apiKey == nil {
		return 0
	}
	return c.apiKey.Weight
}

// RecordOutcome feeds a completed request's timing/success back into the
// chosen candidate's live metrics and mirrors it to the sink. Call this
// after every Completion/Stream, success or failure.
func (r *Router) RecordOutcome(ctx context.Context, entry *PooledEntry, sel *Selection, success bool, elapsed time.Duration, promptTokens, completionTokens int64) {
	if entry != nil && entry.Metrics != nil {
		entry.Metrics.Update(success, float64(elapsed.Milliseconds()), promptTokens+completionTokens)
	}
	if r.pool == nil {
		return
	}
	update := MetricsUpdate{
		ProviderID:       sel.Provider.ID,
		ModelID:          sel.Link.ModelID,
		Success:          success,
		ResponseTimeMS:   float64(elapsed.Milliseconds()),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		At:               time.Now(),
	}
	if sel.APIKey != nil {
		update.APIKeyID = sel.APIKey.ID
	}
	if err := r.pool.sink.SyncAdapterMetrics(ctx, update); err != nil && r.logger != nil {
		r.logger.Warn("metrics sink sync failed", zap.Error(err))
	}
}
