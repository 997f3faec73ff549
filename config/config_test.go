package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "moonshot-v1-8k", cfg.Model)
	assert.Equal(t, 0.9, cfg.Temperature)
	assert.Equal(t, 4096, cfg.SessionMaxTokens)
	assert.Equal(t, []string{"#清除记忆"}, cfg.ClearMemoryCmds)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
model: glm-4
temperature: 0.5
session_max_tokens: 8192
kimi:
  api_key: sk-from-file
redis:
  enabled: true
  addr: redis.internal:6379
  ttl: 1h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "glm-4", cfg.Model)
	assert.Equal(t, 0.5, cfg.Temperature)
	assert.Equal(t, 8192, cfg.SessionMaxTokens)
	assert.Equal(t, "sk-from-file", cfg.Kimi.APIKey)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.TTL.Std())
	// 文件未覆盖的字段保持默认值
	assert.Equal(t, 1024, cfg.MaxTokens)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
model: glm-4
kimi:
  api_key: sk-from-file
`)
	t.Setenv("CHATBOT_MODEL", "moonshot-v1-32k")
	t.Setenv("CHATBOT_KIMI_API_KEY", "sk-from-env")
	t.Setenv("CHATBOT_TEMPERATURE", "0.3")
	t.Setenv("CHATBOT_REDIS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "moonshot-v1-32k", cfg.Model)
	assert.Equal(t, "sk-from-env", cfg.Kimi.APIKey)
	assert.Equal(t, 0.3, cfg.Temperature)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "model: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults are valid", func(c *Config) {}, true},
		{"empty model", func(c *Config) { c.Model = "" }, false},
		{"temperature above range", func(c *Config) { c.Temperature = 1.5 }, false},
		{"temperature below range", func(c *Config) { c.Temperature = -0.1 }, false},
		{"top_p above range", func(c *Config) { c.TopP = 2 }, false},
		{"negative max_tokens", func(c *Config) { c.MaxTokens = -1 }, false},
		{"zero session budget", func(c *Config) { c.SessionMaxTokens = 0 }, false},
		{"compat endpoint without base_url", func(c *Config) { c.UseCompatEndpoint = true }, false},
		{"compat endpoint with base_url", func(c *Config) {
			c.UseCompatEndpoint = true
			c.Compat.BaseURL = "https://llm.internal"
		}, true},
		{"boundary values", func(c *Config) {
			c.Temperature = 1
			c.TopP = 0
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
