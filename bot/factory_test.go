package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wayshall/chatgpt-on-wechat/llm/providers"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers/openaicompat"
)

func TestResolveBotType(t *testing.T) {
	cases := []struct {
		model string
		want  BotType
	}{
		{"moonshot-v1-8k", BotTypeKimi},
		{"moonshot-v1-32k", BotTypeKimi},
		{"moonshot-v1-128k", BotTypeKimi},
		{"glm-4", BotTypeGLM},
		{"glm-4-flash", BotTypeGLM},
		{"glm-3-turbo", BotTypeGLM},
		{"chatglm", BotTypeGLM},
		// 前缀匹配覆盖表外的新模型
		{"moonshot-v2-preview", BotTypeKimi},
		{"glm-5-beta", BotTypeGLM},
	}

	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			got, err := ResolveBotType(tc.model, false)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveBotType_Unknown(t *testing.T) {
	_, err := ResolveBotType("gpt-42-ultra", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model is not supported: gpt-42-ultra")
}

func TestResolveBotType_CompatFlagPrecedes(t *testing.T) {
	// 兼容端点开关优先于模型表：已知模型也路由到 compat
	got, err := ResolveBotType("moonshot-v1-8k", true)
	require.NoError(t, err)
	assert.Equal(t, BotTypeCompat, got)

	got, err = ResolveBotType("anything-at-all", true)
	require.NoError(t, err)
	assert.Equal(t, BotTypeCompat, got)
}

func newTestFactory() *BotFactory {
	return NewBotFactory(FactoryConfig{
		Kimi:             providers.KimiConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "k"}},
		GLM:              providers.GLMConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "g"}},
		Compat:           openaicompat.Config{APIKey: "c", BaseURL: "https://compat.example"},
		Args:             ModelArgs{Model: "moonshot-v1-8k", Temperature: 0.9},
		SessionMaxTokens: 4096,
		SystemPrompt:     "sys",
	}, zap.NewNop())
}

func TestBotFactory_CreateBot(t *testing.T) {
	f := newTestFactory()

	b, err := f.CreateBot(BotTypeKimi, "")
	require.NoError(t, err)
	assert.Equal(t, "kimi", b.Name())
	assert.Equal(t, "moonshot-v1-8k", b.Args().Model)

	b, err = f.CreateBot(BotTypeGLM, "glm-4")
	require.NoError(t, err)
	assert.Equal(t, "glm", b.Name())
	assert.Equal(t, "glm-4", b.Args().Model)
}

func TestBotFactory_CreateBot_UnknownType(t *testing.T) {
	f := newTestFactory()
	_, err := f.CreateBot(BotType("claude"), "")
	require.Error(t, err)
}

func TestBotFactory_CompatRequiresBaseURL(t *testing.T) {
	f := NewBotFactory(FactoryConfig{
		Args: ModelArgs{Model: "custom-model"},
	}, zap.NewNop())

	_, err := f.CreateBot(BotTypeCompat, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestBotFactory_CreateBotForModel(t *testing.T) {
	f := newTestFactory()

	b, err := f.CreateBotForModel("glm-4-air", false)
	require.NoError(t, err)
	assert.Equal(t, "glm", b.Name())
	assert.Equal(t, "glm-4-air", b.Args().Model)

	_, err = f.CreateBotForModel("unknown-model", false)
	require.Error(t, err)
}

func TestBotFactory_PerBotStores(t *testing.T) {
	var names []string
	f := NewBotFactory(FactoryConfig{
		Kimi:   providers.KimiConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "k"}},
		GLM:    providers.GLMConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: "g"}},
		Args:   ModelArgs{Model: "moonshot-v1-8k"},
		NewStore: func(botName string) (SessionStore, error) {
			names = append(names, botName)
			return NewMemoryStore(), nil
		},
	}, zap.NewNop())

	_, err := f.CreateBot(BotTypeKimi, "")
	require.NoError(t, err)
	_, err = f.CreateBot(BotTypeGLM, "glm-4")
	require.NoError(t, err)

	// 每个 Bot 拿到以自己名字创建的独立存储
	assert.Equal(t, []string{"kimi", "glm"}, names)
}

func TestBotFactory_ProviderReuse(t *testing.T) {
	f := newTestFactory()

	_, err := f.CreateBot(BotTypeKimi, "")
	require.NoError(t, err)
	_, err = f.CreateBot(BotTypeKimi, "moonshot-v1-32k")
	require.NoError(t, err)

	// 同标签的 Provider 实例被缓存复用
	assert.Equal(t, []string{"kimi"}, f.Providers().List())
}

func TestBotFactory_CreateDefaultBot(t *testing.T) {
	f := newTestFactory()

	b, err := f.CreateDefaultBot("moonshot-v1-8k", false)
	require.NoError(t, err)
	assert.Equal(t, "kimi", b.Name())

	// 默认 Bot 的 Provider 被标记为注册表默认
	def, err := f.Providers().Default()
	require.NoError(t, err)
	assert.Equal(t, "kimi", def.Name())
}

func TestBotFactory_CreateDefaultBot_UnknownModel(t *testing.T) {
	f := newTestFactory()

	_, err := f.CreateDefaultBot("gpt-42-ultra", false)
	require.Error(t, err)

	_, err = f.Providers().Default()
	assert.Error(t, err)
}
