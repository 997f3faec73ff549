// Package glm 实现智谱 AI GLM LLM 提供者。
// GLM 使用 OpenAI 兼容的 API 格式，另支持 CogView 图像生成（见 image.go）。
package glm

import (
	"go.uber.org/zap"

	"github.com/wayshall/chatgpt-on-wechat/llm/providers"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers/openaicompat"
)

// Provider 实现智谱 AI GLM LLM 提供者.
type Provider struct {
	*openaicompat.Provider
}

// New 创建新的 GLM 提供者实例.
func New(cfg providers.GLMConfig, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://open.bigmodel.cn"
	}

	return &Provider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:   "glm",
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			DefaultModel:   cfg.Model,
			FallbackModel:  "glm-4",
			Timeout:        cfg.Timeout,
			EndpointPath:   "/api/paas/v4/chat/completions",
			ModelsEndpoint: "/api/paas/v4/models",
		}, logger),
	}
}
