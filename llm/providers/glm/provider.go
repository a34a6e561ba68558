package glm

import (
	"go.uber.org/zap"

	"github.com/BaSui01/agentflow/llm/providers"
	"github.com/BaSui01/agentflow/llm/providers/openaicompat"
)

// GLMProvider implements Zhipu AI's GLM family on top of the shared
// OpenAI-compatible base. GLM's chat dialect is a strict superset of the
// OpenAI wire format — including returning delta.reasoning_content on
// thinking-capable models — so no request or response translation is
// needed beyond picking the right base URL and endpoint path.
type GLMProvider struct {
	*openaicompat.Provider
}

// NewGLMProvider creates a new Zhipu GLM provider instance.
func NewGLMProvider(cfg providers.GLMConfig, logger *zap.Logger) *GLMProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://open.bigmodel.cn"
	}

	return &GLMProvider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:  "glm",
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			DefaultModel:  cfg.Model,
			FallbackModel: "glm-4-plus",
			Timeout:       cfg.Timeout,
			EndpointPath:   "/api/paas/v4/chat/completions",
			ModelsEndpoint: "/api/paas/v4/models",
		}, logger),
	}
}
