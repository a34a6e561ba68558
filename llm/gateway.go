package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/agentflow/internal/ctxkeys"
	"go.uber.org/zap"
)

// CatalogueInvalidator is implemented by Catalogue implementations that
// cache reads (internal/catalogue.CachedCatalogue). RefreshCatalogue calls
// it when present; catalogues with no cache simply don't implement it.
type CatalogueInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Gateway is the single entrypoint cmd/gateway wires up: given a canonical
// ChatRequest it selects a provider, borrows a pooled adapter, invokes it,
// feeds the outcome back into the router's live metrics, and releases the
// adapter — all before returning to the caller. Nothing above this type
// ever touches the router or pool directly.
type Gateway struct {
	catalogue Catalogue
	pool      *AdapterPool
	router    *Router
	logger    *zap.Logger
}

// NewGateway builds a Gateway over an already-constructed catalogue, pool
// and router. All three are expected to share the same catalogue instance.
func NewGateway(catalogue Catalogue, pool *AdapterPool, router *Router, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{catalogue: catalogue, pool: pool, router: router, logger: logger}
}

// RouteAndInvoke selects a provider for req.Model, borrows a pooled adapter
// and performs a single non-streaming completion.
func (g *Gateway) RouteAndInvoke(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req.TraceID != "" {
		ctx = ctxkeys.WithTraceID(ctx, req.TraceID)
	}

	sel, err := g.router.SelectProvider(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	entry, err := g.pool.Acquire(ctx, sel.Link.RemoteModelName, sel.Provider.Code, sel.Provider.ID)
	if err != nil {
		return nil, err
	}

	upstream := *req
	upstream.Model = sel.Link.RemoteModelName

	start := time.Now()
	resp, callErr := entry.Provider.Completion(ctx, &upstream)
	elapsed := time.Since(start)

	var promptTokens, completionTokens int64
	if resp != nil {
		promptTokens = int64(resp.Usage.PromptTokens)
		completionTokens = int64(resp.Usage.CompletionTokens)
	}
	g.router.RecordOutcome(ctx, entry, sel, callErr == nil, elapsed, promptTokens, completionTokens)
	g.pool.Release(entry)

	if callErr != nil {
		traceID, _ := ctxkeys.TraceID(ctx)
		g.logger.Warn("route and invoke failed",
			zap.String("trace_id", traceID),
			zap.String("model", req.Model),
			zap.String("provider", sel.Provider.Code),
			zap.Error(callErr))
		return nil, callErr
	}

	resp.Model = req.Model
	resp.Provider = sel.Provider.Code
	return resp, nil
}

// RouteAndInvokeStream selects a provider for req.Model, borrows a pooled
// adapter and streams canonical chunks back on the returned channel. The
// channel is closed once the upstream stream ends (its final chunk carries
// FinishReason/Usage); the adapter is released and the outcome recorded as
// part of that same drain, so callers never need to manage pool lifecycle
// themselves.
func (g *Gateway) RouteAndInvokeStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	if req.TraceID != "" {
		ctx = ctxkeys.WithTraceID(ctx, req.TraceID)
	}

	sel, err := g.router.SelectProvider(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	entry, err := g.pool.Acquire(ctx, sel.Link.RemoteModelName, sel.Provider.Code, sel.Provider.ID)
	if err != nil {
		return nil, err
	}

	upstream := *req
	upstream.Model = sel.Link.RemoteModelName

	start := time.Now()
	upstreamChunks, err := entry.Provider.Stream(ctx, &upstream)
	if err != nil {
		g.router.RecordOutcome(ctx, entry, sel, false, time.Since(start), 0, 0)
		g.pool.Release(entry)
		return nil, err
	}

	out := make(chan StreamChunk, 1)
	go func() {
		defer close(out)
		defer g.pool.Release(entry)

		var promptTokens, completionTokens int64
		success := true
		for chunk := range upstreamChunks {
			chunk.Model = req.Model
			chunk.Provider = sel.Provider.Code
			if chunk.Err != nil {
				success = false
			}
			if chunk.Usage != nil {
				promptTokens = int64(chunk.Usage.PromptTokens)
				completionTokens = int64(chunk.Usage.CompletionTokens)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				success = false
				g.router.RecordOutcome(ctx, entry, sel, success, time.Since(start), promptTokens, completionTokens)
				return
			}
		}
		g.router.RecordOutcome(ctx, entry, sel, success, time.Since(start), promptTokens, completionTokens)
	}()

	return out, nil
}

// PoolStats exposes the adapter pool's occupancy for introspection
// endpoints (cmd/gateway's /healthz handler reports it).
func (g *Gateway) PoolStats() Stats {
	return g.pool.Stats()
}

// RefreshCatalogue invalidates any cached catalogue resolutions. It is a
// no-op against a Catalogue implementation that doesn't cache.
func (g *Gateway) RefreshCatalogue(ctx context.Context) error {
	inv, ok := g.catalogue.(CatalogueInvalidator)
	if !ok {
		return nil
	}
	if err := inv.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("refresh catalogue: %w", err)
	}
	return nil
}

// Close stops the adapter pool's background loops.
func (g *Gateway) Close() {
	g.pool.Close()
}
