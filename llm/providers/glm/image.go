package glm

import (
	"context"

	"github.com/wayshall/chatgpt-on-wechat/llm"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers"
)

// GenerateImage 使用 GLM CogView 生成图像.
func (p *Provider) GenerateImage(ctx context.Context, req *llm.ImageGenerationRequest) (*llm.ImageGenerationResponse, error) {
	return providers.GenerateImageOpenAICompat(ctx, p.Client, p.Cfg.BaseURL, p.Cfg.APIKey, p.Name(), "/api/paas/v4/images/generations", req, providers.BearerTokenHeaders)
}
