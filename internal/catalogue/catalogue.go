package catalogue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/BaSui01/agentflow/llm"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormCatalogue is the gorm-backed llm.Catalogue implementation. It never
// caches; wrap it in CachedCatalogue for the read-through Redis layer the
// router actually gets wired against.
type GormCatalogue struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New builds a GormCatalogue over an already-opened *gorm.DB. Callers own
// migration (AllTables) and connection pooling (internal/database).
func New(db *gorm.DB, logger *zap.Logger) *GormCatalogue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormCatalogue{db: db, logger: logger}
}

func (c *GormCatalogue) ModelByName(ctx context.Context, name string) (*llm.ModelDescriptor, error) {
	var m Model
	err := c.db.WithContext(ctx).Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup model %q: %w", name, err)
	}
	return toModelDescriptor(m), nil
}

func (c *GormCatalogue) ProviderByName(ctx context.Context, code string) (*llm.ProviderDescriptor, error) {
	var p Provider
	err := c.db.WithContext(ctx).Where("name = ?", code).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup provider %q: %w", code, err)
	}
	return toProviderDescriptor(p), nil
}

func (c *GormCatalogue) ProviderByID(ctx context.Context, id uint64) (*llm.ProviderDescriptor, error) {
	var p Provider
	err := c.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup provider %d: %w", id, err)
	}
	return toProviderDescriptor(p), nil
}

func (c *GormCatalogue) ModelProviderLink(ctx context.Context, modelID, providerID uint64) (*llm.ModelProviderLink, error) {
	var mp ModelProvider
	err := c.db.WithContext(ctx).
		Where("llm_id = ? AND provider_id = ?", modelID, providerID).
		First(&mp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup link model=%d provider=%d: %w", modelID, providerID, err)
	}
	link := toModelProviderLink(mp)
	return &link, nil
}

// ModelProviderLinks resolves modelName to its canonical Model row, then
// returns every enabled provider link for it, ordered by weight descending
// so callers that don't care about scoring still get a sensible default.
func (c *GormCatalogue) ModelProviderLinks(ctx context.Context, modelName string) ([]llm.ModelProviderLink, error) {
	model, err := c.ModelByName(ctx, modelName)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, nil
	}

	var rows []ModelProvider
	err = c.db.WithContext(ctx).
		Where("llm_id = ? AND is_enabled = ?", model.ID, true).
		Order("weight DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list links for model %q: %w", modelName, err)
	}

	links := make([]llm.ModelProviderLink, 0, len(rows))
	for _, r := range rows {
		links = append(links, toModelProviderLink(r))
	}
	return links, nil
}

// BestAPIKey picks one enabled, non-quota-exhausted credential for
// providerID via a weighted random draw over a cumulative-weight scan. A
// preferred key's weight counts double, so it is favoured but still competes
// by weight rather than always winning outright. This draw is separate code
// from the router's weightedPick, which considers preferred links exclusively.
func (c *GormCatalogue) BestAPIKey(ctx context.Context, providerID uint64) (*llm.APIKeyDescriptor, error) {
	var keys []ProviderAPIKey
	err := c.db.WithContext(ctx).
		Where("provider_id = ? AND is_enabled = ?", providerID, true).
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("list api keys for provider %d: %w", providerID, err)
	}

	eligible := make([]ProviderAPIKey, 0, len(keys))
	for _, k := range keys {
		if k.DailyQuota > 0 && k.UsageCount >= k.DailyQuota {
			continue
		}
		eligible = append(eligible, k)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].IsPreferred != eligible[j].IsPreferred {
			return eligible[i].IsPreferred
		}
		return eligible[i].Weight > eligible[j].Weight
	})

	total := 0
	for _, k := range eligible {
		w := k.Weight
		if k.IsPreferred {
			w *= 2
		}
		total += w
	}
	if total <= 0 {
		d := toAPIKeyDescriptor(eligible[0])
		return &d, nil
	}

	target := rand.Intn(total)
	cum := 0
	for _, k := range eligible {
		w := k.Weight
		if k.IsPreferred {
			w *= 2
		}
		cum += w
		if target < cum {
			d := toAPIKeyDescriptor(k)
			return &d, nil
		}
	}
	d := toAPIKeyDescriptor(eligible[len(eligible)-1])
	return &d, nil
}

func (c *GormCatalogue) AllModels(ctx context.Context) ([]llm.ModelDescriptor, error) {
	var rows []Model
	if err := c.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	out := make([]llm.ModelDescriptor, 0, len(rows))
	for _, m := range rows {
		out = append(out, *toModelDescriptor(m))
	}
	return out, nil
}

func (c *GormCatalogue) AllProviders(ctx context.Context) ([]llm.ProviderDescriptor, error) {
	var rows []Provider
	if err := c.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	out := make([]llm.ProviderDescriptor, 0, len(rows))
	for _, p := range rows {
		out = append(out, *toProviderDescriptor(p))
	}
	return out, nil
}

func toModelDescriptor(m Model) *llm.ModelDescriptor {
	return &llm.ModelDescriptor{
		ID:           m.ID,
		Name:         m.Name,
		Type:         modelType(m.LLMType),
		Capabilities: splitCapabilities(m.Capabilities),
		Enabled:      m.IsEnabled,
	}
}

// modelType lowercases the stored "PUBLIC"/"PRIVATE" enum to the
// descriptor's "public"/"private" form.
func modelType(llmType string) string {
	switch llmType {
	case "PUBLIC":
		return "public"
	case "PRIVATE":
		return "private"
	default:
		return strings.ToLower(llmType)
	}
}

func splitCapabilities(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func toProviderDescriptor(p Provider) *llm.ProviderDescriptor {
	base := p.ThirdPartyEndpoint
	if p.OfficialEndpoint != "" {
		base = p.OfficialEndpoint
	}
	return &llm.ProviderDescriptor{
		ID:      p.ID,
		Code:    p.Name,
		Name:    p.Name,
		Kind:    providerKind(p.ProviderType),
		BaseURL: base,
		Enabled: p.IsEnabled,
		Weight:  p.Priority,
	}
}

// providerKind maps the stored "PUBLIC_CLOUD"/"THIRD_PARTY"/"PRIVATE" enum
// to the descriptor's hyphenated lowercase form.
func providerKind(providerType string) string {
	switch providerType {
	case "PUBLIC_CLOUD":
		return "public-cloud"
	case "THIRD_PARTY":
		return "third-party"
	case "PRIVATE":
		return "private"
	default:
		return strings.ToLower(strings.ReplaceAll(providerType, "_", "-"))
	}
}

func toModelProviderLink(mp ModelProvider) llm.ModelProviderLink {
	return llm.ModelProviderLink{
		ModelID:         mp.LLMID,
		ProviderID:      mp.ProviderID,
		RemoteModelName: mp.RemoteModelName,
		PriceInput:      mp.PriceInput,
		PriceOutput:     mp.PriceOutput,
		MaxTokens:       mp.MaxTokens,
		Weight:          mp.Weight,
		Preferred:       mp.IsPreferred,
		Enabled:         mp.IsEnabled,
	}
}

func toAPIKeyDescriptor(k ProviderAPIKey) llm.APIKeyDescriptor {
	return llm.APIKeyDescriptor{
		ID:         k.ID,
		ProviderID: k.ProviderID,
		APIKey:     k.APIKey,
		Label:      k.Name,
		Weight:     k.Weight,
		Priority:   0,
		Enabled:    k.IsEnabled,
	}
}
