package bot

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wayshall/chatgpt-on-wechat/internal/metrics"
	"github.com/wayshall/chatgpt-on-wechat/llm"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers/glm"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers/kimi"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers/openaicompat"
	"github.com/wayshall/chatgpt-on-wechat/llm/tokenizer"
)

// BotType 是 Provider 标签。
type BotType string

const (
	BotTypeKimi   BotType = "kimi"
	BotTypeGLM    BotType = "glm"
	BotTypeCompat BotType = "compat" // 通用 OpenAI 兼容端点
)

// modelBotTypes 是模型目录：模型名 → Provider 标签。
// 静态全量表，配置加载时即可校验，未知模型不会静默落空。
var modelBotTypes = map[string]BotType{
	"moonshot-v1-8k":   BotTypeKimi,
	"moonshot-v1-32k":  BotTypeKimi,
	"moonshot-v1-128k": BotTypeKimi,
	"glm-4":            BotTypeGLM,
	"glm-4v":           BotTypeGLM,
	"glm-4-air":        BotTypeGLM,
	"glm-4-flash":      BotTypeGLM,
	"glm-3-turbo":      BotTypeGLM,
	"chatglm":          BotTypeGLM,
}

// modelFamilyPrefixes 按模型家族前缀推断 Provider 标签。
var modelFamilyPrefixes = []struct {
	Prefix string
	Type   BotType
}{
	{"moonshot-", BotTypeKimi},
	{"kimi-", BotTypeKimi},
	{"glm-", BotTypeGLM},
}

// ResolveBotType 把模型标识映射为 Provider 标签。
// 全局替代端点标志优先于按模型名的推断；
// 未知模型返回指名道姓的配置错误。
func ResolveBotType(model string, useCompatEndpoint bool) (BotType, error) {
	if useCompatEndpoint {
		return BotTypeCompat, nil
	}
	if bt, ok := modelBotTypes[model]; ok {
		return bt, nil
	}
	for _, fam := range modelFamilyPrefixes {
		if strings.HasPrefix(model, fam.Prefix) {
			return fam.Type, nil
		}
	}
	return "", fmt.Errorf("model is not supported: %s", model)
}

// FactoryConfig 是构造 Bot 所需的全部配置与共享依赖。
type FactoryConfig struct {
	Kimi   providers.KimiConfig
	GLM    providers.GLMConfig
	Compat openaicompat.Config

	// Args 默认生成参数
	Args ModelArgs

	// SessionMaxTokens 历史裁剪预算
	SessionMaxTokens int

	// SystemPrompt 新会话默认 system prompt
	SystemPrompt string

	// ClearMemoryCommands 清除会话的指令串
	ClearMemoryCommands []string

	// RatePerMinute 本地限流（每分钟请求数），0 表示不限流
	RatePerMinute float64

	// NewStore 为每个 Bot 创建独立的会话存储；nil 时使用内存存储
	NewStore func(botName string) (SessionStore, error)

	// Metrics 可选的共享指标收集器
	Metrics *metrics.Collector
}

// BotFactory 按 Provider 标签构造 ChatBot。
// 同一标签的 Provider 实例被缓存复用，多个 Bot 共享一个 HTTP 客户端。
type BotFactory struct {
	cfg      FactoryConfig
	registry *llm.ProviderRegistry
	logger   *zap.Logger
}

// NewBotFactory 创建 Bot 工厂。
func NewBotFactory(cfg FactoryConfig, logger *zap.Logger) *BotFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BotFactory{
		cfg:      cfg,
		registry: llm.NewProviderRegistry(),
		logger:   logger,
	}
}

// Providers 返回已创建 Provider 的注册表，供启动健康检查等使用。
func (f *BotFactory) Providers() *llm.ProviderRegistry { return f.registry }

// CreateBot 构造给定标签的 ChatBot。
// modelOverride 非空时替换默认模型（人设的模型覆盖走这里）。
// 未知标签返回错误。
func (f *BotFactory) CreateBot(bt BotType, modelOverride string) (*ChatBot, error) {
	args := f.cfg.Args
	if modelOverride != "" {
		args.Model = modelOverride
	}

	opts := Options{
		ClearMemoryCommands: f.cfg.ClearMemoryCommands,
		Metrics:             f.cfg.Metrics,
	}
	if f.cfg.RatePerMinute > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(f.cfg.RatePerMinute/60.0), 1)
	}

	switch bt {
	case BotTypeKimi:
		var p *kimi.Provider
		if cached, ok := f.registry.Get(string(bt)); ok {
			p = cached.(*kimi.Provider)
		} else {
			p = kimi.New(f.cfg.Kimi, f.logger)
			f.registry.Register(string(bt), p)
		}
		opts.Extractor = p
		return f.assemble(p.Name(), p, args, opts)

	case BotTypeGLM:
		var p *glm.Provider
		if cached, ok := f.registry.Get(string(bt)); ok {
			p = cached.(*glm.Provider)
		} else {
			p = glm.New(f.cfg.GLM, f.logger)
			f.registry.Register(string(bt), p)
		}
		opts.ImageGen = p
		return f.assemble(p.Name(), p, args, opts)

	case BotTypeCompat:
		// 通用 OpenAI 兼容端点：任意名称 + base_url 即可接入
		if f.cfg.Compat.BaseURL == "" {
			return nil, fmt.Errorf("bot type %q requires a base_url", bt)
		}
		var p *openaicompat.Provider
		if cached, ok := f.registry.Get(string(bt)); ok {
			p = cached.(*openaicompat.Provider)
		} else {
			cfg := f.cfg.Compat
			if cfg.ProviderName == "" {
				cfg.ProviderName = string(BotTypeCompat)
			}
			p = openaicompat.New(cfg, f.logger)
			f.registry.Register(string(bt), p)
		}
		return f.assemble(p.Name(), p, args, opts)

	default:
		return nil, fmt.Errorf("bot type is not supported: %s", bt)
	}
}

// CreateBotForModel 解析模型标识并构造对应的 ChatBot。
func (f *BotFactory) CreateBotForModel(model string, useCompatEndpoint bool) (*ChatBot, error) {
	bt, err := ResolveBotType(model, useCompatEndpoint)
	if err != nil {
		return nil, err
	}
	return f.CreateBot(bt, model)
}

// CreateDefaultBot 构造默认 Bot，并把其 Provider 标记为注册表默认，
// 供健康检查等按默认 Provider 取用。
func (f *BotFactory) CreateDefaultBot(model string, useCompatEndpoint bool) (*ChatBot, error) {
	bt, err := ResolveBotType(model, useCompatEndpoint)
	if err != nil {
		return nil, err
	}
	b, err := f.CreateBot(bt, model)
	if err != nil {
		return nil, err
	}
	if err := f.registry.SetDefault(string(bt)); err != nil {
		return nil, err
	}
	return b, nil
}

func (f *BotFactory) assemble(name string, provider llm.Provider, args ModelArgs, opts Options) (*ChatBot, error) {
	store, err := f.newStore(name)
	if err != nil {
		return nil, err
	}
	tok := tokenizer.ForModel(args.Model)
	sessions := NewSessionManager(store, tok, f.cfg.SessionMaxTokens, f.cfg.SystemPrompt, f.logger)
	return NewChatBot(provider, sessions, args, opts, f.logger), nil
}

func (f *BotFactory) newStore(botName string) (SessionStore, error) {
	if f.cfg.NewStore == nil {
		return NewMemoryStore(), nil
	}
	return f.cfg.NewStore(botName)
}
