package bot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedisStore(t *testing.T, cfg RedisStoreConfig) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()
	store, err := NewRedisStore(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStore_RoundTrip(t *testing.T) {
	store := newTestRedisStore(t, RedisStoreConfig{})
	ctx := context.Background()

	s := NewSession("u1", "你是助手")
	s.AddQuery("hello")
	s.AddReply("hi")
	s.TotalTokens = 21
	s.FilesLoaded = true
	require.NoError(t, store.Save(ctx, s))

	loaded, ok, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s.SessionID, loaded.SessionID)
	assert.Equal(t, s.SystemPrompt, loaded.SystemPrompt)
	assert.Equal(t, s.Messages, loaded.Messages)
	assert.Equal(t, 21, loaded.TotalTokens)
	assert.True(t, loaded.FilesLoaded)
}

func TestRedisStore_LoadMissing(t *testing.T) {
	store := newTestRedisStore(t, RedisStoreConfig{})

	s, ok, err := store.Load(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, s)
}

func TestRedisStore_Delete(t *testing.T) {
	store := newTestRedisStore(t, RedisStoreConfig{})
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, NewSession("u1", "sys")))
	require.NoError(t, store.Delete(ctx, "u1"))

	_, ok, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	// 删除不存在的键不报错
	require.NoError(t, store.Delete(ctx, "u1"))
}

func TestRedisStore_Clear_RespectsPrefix(t *testing.T) {
	mr := miniredis.RunT(t)

	kimiStore, err := NewRedisStore(RedisStoreConfig{Addr: mr.Addr(), KeyPrefix: "session:kimi:"}, zap.NewNop())
	require.NoError(t, err)
	defer kimiStore.Close()

	glmStore, err := NewRedisStore(RedisStoreConfig{Addr: mr.Addr(), KeyPrefix: "session:glm:"}, zap.NewNop())
	require.NoError(t, err)
	defer glmStore.Close()

	ctx := context.Background()
	require.NoError(t, kimiStore.Save(ctx, NewSession("u1", "sys")))
	require.NoError(t, glmStore.Save(ctx, NewSession("u1", "sys")))

	// 清除只影响自己前缀下的会话
	require.NoError(t, kimiStore.Clear(ctx))

	_, ok, err := kimiStore.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = glmStore.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisStoreConfig{Addr: mr.Addr(), TTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, NewSession("u1", "sys")))

	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_ConnectFailure(t *testing.T) {
	_, err := NewRedisStore(RedisStoreConfig{Addr: "127.0.0.1:1"}, zap.NewNop())
	require.Error(t, err)
}

func TestSessionManager_WithRedisStore(t *testing.T) {
	store := newTestRedisStore(t, RedisStoreConfig{})
	m := NewSessionManager(store, charTokenizer{}, 0, "sys", zap.NewNop())
	ctx := context.Background()

	_, err := m.SessionQuery(ctx, "hello", "u1")
	require.NoError(t, err)
	require.NoError(t, m.SessionReply(ctx, "hi", "u1", 12))

	s, err := m.BuildSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Turns())
	assert.Equal(t, 12, s.TotalTokens)
}
