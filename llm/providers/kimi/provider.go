// Package kimi 实现月之暗面 Moonshot LLM 提供者。
// Moonshot 使用 OpenAI 兼容的 API 格式，另提供文件抽取接口（见 files.go）。
package kimi

import (
	"go.uber.org/zap"

	"github.com/wayshall/chatgpt-on-wechat/llm/providers"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers/openaicompat"
)

// Provider 实现月之暗面 Kimi LLM 提供者.
type Provider struct {
	*openaicompat.Provider
}

// New 创建新的 Kimi 提供者实例.
func New(cfg providers.KimiConfig, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.moonshot.cn"
	}

	return &Provider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName:  "kimi",
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			DefaultModel:  cfg.Model,
			FallbackModel: "moonshot-v1-8k",
			Timeout:       cfg.Timeout,
		}, logger),
	}
}
