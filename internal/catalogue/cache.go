package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/agentflow/llm"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedCatalogue wraps a GormCatalogue with a short-TTL Redis read-through
// cache for ModelProviderLinks, the lookup the router performs on every
// request; every other lookup, BestAPIKey included, passes straight through
// to the inner catalogue. Writes never go through this type —
// there is no admin surface in this repo — so the only invalidation concern
// is TTL expiry, which is why CacheTTL is kept deliberately short.
type CachedCatalogue struct {
	inner  *GormCatalogue
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps inner with a Redis read-through cache. ttl <= 0 falls
// back to llm.CacheTTL.
func NewCached(inner *GormCatalogue, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedCatalogue {
	if ttl <= 0 {
		ttl = llm.CacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedCatalogue{inner: inner, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *CachedCatalogue) linksKey(modelName string) string { return "catalogue:links:" + modelName }
func (c *CachedCatalogue) keyKey(providerID uint64) string {
	return fmt.Sprintf("catalogue:apikey:%d", providerID)
}

func (c *CachedCatalogue) ModelByName(ctx context.Context, name string) (*llm.ModelDescriptor, error) {
	return c.inner.ModelByName(ctx, name)
}

func (c *CachedCatalogue) ProviderByName(ctx context.Context, code string) (*llm.ProviderDescriptor, error) {
	return c.inner.ProviderByName(ctx, code)
}

func (c *CachedCatalogue) ProviderByID(ctx context.Context, id uint64) (*llm.ProviderDescriptor, error) {
	return c.inner.ProviderByID(ctx, id)
}

func (c *CachedCatalogue) ModelProviderLink(ctx context.Context, modelID, providerID uint64) (*llm.ModelProviderLink, error) {
	return c.inner.ModelProviderLink(ctx, modelID, providerID)
}

// ModelProviderLinks is cached: a cache hit skips the gorm query entirely.
// The weighted-selection freshness this sacrifices (quota/weight edits take
// up to ttl to propagate) is the explicit tradeoff CacheTTL documents.
func (c *CachedCatalogue) ModelProviderLinks(ctx context.Context, modelName string) ([]llm.ModelProviderLink, error) {
	key := c.linksKey(modelName)
	if cached, ok := c.getLinks(ctx, key); ok {
		return cached, nil
	}
	links, err := c.inner.ModelProviderLinks(ctx, modelName)
	if err != nil {
		return nil, err
	}
	c.setLinks(ctx, key, links)
	return links, nil
}

// BestAPIKey is intentionally NOT cached even though it is the hottest read: caching the winning key would defeat
// weighted rotation across concurrent requests (every request would get the
// same cached answer until expiry). Instead it passes straight through.
func (c *CachedCatalogue) BestAPIKey(ctx context.Context, providerID uint64) (*llm.APIKeyDescriptor, error) {
	return c.inner.BestAPIKey(ctx, providerID)
}

func (c *CachedCatalogue) AllModels(ctx context.Context) ([]llm.ModelDescriptor, error) {
	return c.inner.AllModels(ctx)
}

func (c *CachedCatalogue) AllProviders(ctx context.Context) ([]llm.ProviderDescriptor, error) {
	return c.inner.AllProviders(ctx)
}

func (c *CachedCatalogue) getLinks(ctx context.Context, key string) ([]llm.ModelProviderLink, bool) {
	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("catalogue cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var links []llm.ModelProviderLink
	if err := json.Unmarshal(raw, &links); err != nil {
		c.logger.Warn("catalogue cache decode failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return links, true
}

// InvalidateAll drops every cached catalogue entry, forcing the next read
// of each to go through inner. Satisfies llm.CatalogueInvalidator so
// Gateway.RefreshCatalogue can invalidate without knowing the cache's
// storage details.
func (c *CachedCatalogue) InvalidateAll(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	iter := c.rdb.Scan(ctx, 0, "catalogue:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan catalogue cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete catalogue cache keys: %w", err)
	}
	return nil
}

func (c *CachedCatalogue) setLinks(ctx context.Context, key string, links []llm.ModelProviderLink) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(links)
	if err != nil {
		c.logger.Warn("catalogue cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("catalogue cache write failed", zap.String("key", key), zap.Error(err))
	}
}
