// Package config 提供 YAML + 环境变量的分层配置加载。
// 优先级：默认值 < 配置文件 < CHATBOT_* 环境变量。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 支持 "30s" / "1h" 形式的 YAML 时长字面量。
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std 返回标准库时长。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProviderCredentials 是单个上游服务商的凭据。
type ProviderCredentials struct {
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// CompatConfig 是自定义 OpenAI 兼容端点的配置。
type CompatConfig struct {
	Name    string   `yaml:"name"`
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"`
	Model   string   `yaml:"model"`
	Timeout Duration `yaml:"timeout"`
}

// RedisConfig 控制会话的 Redis 持久化；关闭时使用内存存储。
type RedisConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// LogConfig 控制日志输出。
type LogConfig struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // json / console
}

// Config 是进程级配置。
type Config struct {
	Model             string   `yaml:"model"`
	Temperature       float64  `yaml:"temperature"`
	TopP              float64  `yaml:"top_p"`
	MaxTokens         int      `yaml:"max_tokens"`
	SessionMaxTokens  int      `yaml:"session_max_tokens"`
	SystemPrompt      string   `yaml:"system_prompt"`
	ClearMemoryCmds   []string `yaml:"clear_memory_commands"`
	UseCompatEndpoint bool     `yaml:"use_compat_endpoint"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	Kimi   ProviderCredentials `yaml:"kimi"`
	GLM    ProviderCredentials `yaml:"glm"`
	Compat CompatConfig        `yaml:"compat"`

	Redis RedisConfig `yaml:"redis"`
	Log   LogConfig   `yaml:"log"`

	RoleCatalog string `yaml:"role_catalog"`
}

// Default 返回内置默认配置。
func Default() *Config {
	return &Config{
		Model:            "moonshot-v1-8k",
		Temperature:      0.9,
		TopP:             1.0,
		MaxTokens:        1024,
		SessionMaxTokens: 4096,
		SystemPrompt:     "你是一个乐于助人的助手。",
		ClearMemoryCmds:  []string{"#清除记忆"},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
	}
}

// Load 加载配置：默认值、可选的 YAML 文件、CHATBOT_* 环境变量覆盖。
// path 为空时跳过文件层。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 用 CHATBOT_* 环境变量覆盖已加载的值。
// 凭据类配置优先走环境变量，避免写进配置文件。
func (c *Config) applyEnv() {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr("CHATBOT_MODEL", &c.Model)
	setStr("CHATBOT_SYSTEM_PROMPT", &c.SystemPrompt)
	setStr("CHATBOT_KIMI_API_KEY", &c.Kimi.APIKey)
	setStr("CHATBOT_KIMI_BASE_URL", &c.Kimi.BaseURL)
	setStr("CHATBOT_GLM_API_KEY", &c.GLM.APIKey)
	setStr("CHATBOT_GLM_BASE_URL", &c.GLM.BaseURL)
	setStr("CHATBOT_COMPAT_API_KEY", &c.Compat.APIKey)
	setStr("CHATBOT_COMPAT_BASE_URL", &c.Compat.BaseURL)
	setStr("CHATBOT_COMPAT_MODEL", &c.Compat.Model)
	setStr("CHATBOT_REDIS_ADDR", &c.Redis.Addr)
	setStr("CHATBOT_REDIS_PASSWORD", &c.Redis.Password)
	setStr("CHATBOT_LOG_LEVEL", &c.Log.Level)
	setStr("CHATBOT_ROLE_CATALOG", &c.RoleCatalog)

	if v := os.Getenv("CHATBOT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature = f
		}
	}
	if v := os.Getenv("CHATBOT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTokens = n
		}
	}
	if v := os.Getenv("CHATBOT_USE_COMPAT_ENDPOINT"); v != "" {
		c.UseCompatEndpoint = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CHATBOT_REDIS_ENABLED"); v != "" {
		c.Redis.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate 检查取值范围。
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be in [0, 1], got %v", c.Temperature)
	}
	if c.TopP < 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be in [0, 1], got %v", c.TopP)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative, got %d", c.MaxTokens)
	}
	if c.SessionMaxTokens <= 0 {
		return fmt.Errorf("session_max_tokens must be positive, got %d", c.SessionMaxTokens)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must be non-negative, got %d", c.RateLimitPerMinute)
	}
	if c.UseCompatEndpoint && c.Compat.BaseURL == "" {
		return fmt.Errorf("compat.base_url is required when use_compat_endpoint is set")
	}
	return nil
}
