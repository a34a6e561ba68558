package llm

import (
	"context"
	"time"
)

// ProviderDescriptor describes a registered upstream LLM vendor account.
// It is the Catalogue-level view of a provider; adapters are constructed
// from it but never hold a reference back to the catalogue itself.
type ProviderDescriptor struct {
	ID      uint64
	Code    string // dispatch key, e.g. "openai", "claude", "volcengine"
	Name    string
	Kind    string // "public-cloud", "third-party" or "private"; (Name, Kind) is unique
	BaseURL string
	Enabled bool
	Weight  int // relative weight among providers serving the same model
}

// APIKeyDescriptor describes one credential belonging to a provider.
type APIKeyDescriptor struct {
	ID         uint64
	ProviderID uint64
	APIKey     string
	Label      string
	Weight     int
	Priority   int
	Enabled    bool
	RateLimit  RateLimitDescriptor
}

// RateLimitDescriptor carries the rolling request-budget a key is allowed.
// A zero value means unlimited.
type RateLimitDescriptor struct {
	RPM int
	RPD int
}

// ModelDescriptor describes a canonical model name exposed to callers.
type ModelDescriptor struct {
	ID           uint64
	Name         string // canonical name, e.g. "gpt-5", "claude-3-5-sonnet"
	Type         string // "public" or "private"
	Capabilities []string
	Enabled      bool
}

// HasCapability reports whether m advertises the given capability tag
// (e.g. "MULTIMODAL_IMAGE_UNDERSTANDING"). Capability tags are compared
// case-sensitively; callers should pass the uppercase canonical form.
func (m ModelDescriptor) HasCapability(tag string) bool {
	for _, c := range m.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// ModelProviderLink binds a canonical model to a concrete provider-side
// remote model name, with cost and capability metadata for scoring.
type ModelProviderLink struct {
	ModelID         uint64
	ProviderID      uint64
	RemoteModelName string
	PriceInput      float64 // USD per 1K prompt tokens
	PriceOutput     float64 // USD per 1K completion tokens
	MaxTokens       int
	Weight          int  // relative share used in weighted-random selection among peers
	Preferred       bool // selected ahead of non-preferred peers when any candidate is preferred
	Enabled         bool
}

// Catalogue is the read interface the router, pool and adapter factory use
// to resolve providers, models and credentials. It is implemented by
// internal/catalogue against a persistent store; the router core never
// queries a database directly, only this interface.
type Catalogue interface {
	ModelByName(ctx context.Context, name string) (*ModelDescriptor, error)
	ProviderByName(ctx context.Context, code string) (*ProviderDescriptor, error)
	ProviderByID(ctx context.Context, id uint64) (*ProviderDescriptor, error)
	ModelProviderLink(ctx context.Context, modelID, providerID uint64) (*ModelProviderLink, error)
	ModelProviderLinks(ctx context.Context, modelName string) ([]ModelProviderLink, error)
	BestAPIKey(ctx context.Context, providerID uint64) (*APIKeyDescriptor, error)
	AllModels(ctx context.Context) ([]ModelDescriptor, error)
	AllProviders(ctx context.Context) ([]ProviderDescriptor, error)
}

// CacheTTL is the default read-through cache lifetime catalogue
// implementations should honor for provider/model lookups.
const CacheTTL = 30 * time.Second
