package catalogue

import "time"

// Model is the gorm row backing llm_models: a canonical model name exposed
// to callers, independent of which upstream providers can serve it.
type Model struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Name         string `gorm:"column:name;size:100;uniqueIndex;not null"`
	LLMType      string `gorm:"column:llm_type;size:20;not null"`     // "PUBLIC" | "PRIVATE"
	Capabilities string `gorm:"column:capabilities;size:255"`         // comma-separated tags, e.g. "TEXT,MULTIMODAL_IMAGE_UNDERSTANDING"
	IsEnabled    bool   `gorm:"column:is_enabled;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName pins the gorm table name to the original schema's name.
func (Model) TableName() string { return "llm_models" }

// Provider is the gorm row backing llm_providers: one registered upstream
// vendor account (OpenAI, Anthropic, Volcengine, ...).
type Provider struct {
	ID                 uint64 `gorm:"primaryKey;autoIncrement"`
	Name               string `gorm:"column:name;size:100;not null;uniqueIndex:idx_provider_name_type"`          // dispatch code, e.g. "openai"
	ProviderType       string `gorm:"column:provider_type;size:20;not null;uniqueIndex:idx_provider_name_type"` // "PUBLIC_CLOUD" | "THIRD_PARTY" | "PRIVATE"
	OfficialEndpoint   string `gorm:"column:official_endpoint;size:255"`
	ThirdPartyEndpoint string `gorm:"column:third_party_endpoint;size:255"`
	IsEnabled          bool   `gorm:"column:is_enabled;default:true"`
	Priority           int    `gorm:"column:priority;default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (Provider) TableName() string { return "llm_providers" }

// ProviderAPIKey is the gorm row backing llm_provider_apikeys: one
// credential belonging to a provider, with weight/quota fields the router's
// weighted selection consumes.
type ProviderAPIKey struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	ProviderID  uint64 `gorm:"column:provider_id;not null;index:idx_apikey_provider_enabled_weight"`
	Name        string `gorm:"column:name;size:100"`
	APIKey      string `gorm:"column:api_key;type:text;not null"`
	BaseURL     string `gorm:"column:base_url;size:255"`
	IsEnabled   bool   `gorm:"column:is_enabled;default:true;index:idx_apikey_provider_enabled_weight"`
	IsPreferred bool   `gorm:"column:is_preferred;default:false"`
	Weight      int    `gorm:"column:weight;default:10;index:idx_apikey_provider_enabled_weight"`
	DailyQuota  int    `gorm:"column:daily_quota"`
	UsageCount  int    `gorm:"column:usage_count;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProviderAPIKey) TableName() string { return "llm_provider_apikeys" }

// ModelProvider is the gorm row backing llm_model_providers: the
// many-to-many link between a canonical model and a provider able to serve
// it, carrying per-pairing cost/priority metadata.
type ModelProvider struct {
	ID              uint64  `gorm:"primaryKey;autoIncrement"`
	LLMID           uint64  `gorm:"column:llm_id;not null;index:idx_model_provider_llm"`
	ProviderID      uint64  `gorm:"column:provider_id;not null"`
	RemoteModelName string  `gorm:"column:remote_model_name;size:150;not null"`
	PriceInput      float64 `gorm:"column:price_input;default:0"`
	PriceOutput     float64 `gorm:"column:price_output;default:0"`
	MaxTokens       int     `gorm:"column:max_tokens;default:0"`
	Weight          int     `gorm:"column:weight;default:10"`
	IsPreferred     bool    `gorm:"column:is_preferred;default:false"`
	IsEnabled       bool    `gorm:"column:is_enabled;default:true;index:idx_model_provider_enabled_weight"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ModelProvider) TableName() string { return "llm_model_providers" }

// AllTables lists every gorm model this package owns, for AutoMigrate.
func AllTables() []any {
	return []any{&Model{}, &Provider{}, &ProviderAPIKey{}, &ModelProvider{}}
}
