package bot

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wayshall/chatgpt-on-wechat/llm"
)

func newTestManager(maxTokens int) *SessionManager {
	return NewSessionManager(NewMemoryStore(), charTokenizer{}, maxTokens, "default prompt", zap.NewNop())
}

func TestSessionManager_SessionQuery_CreatesSession(t *testing.T) {
	m := newTestManager(0)
	ctx := context.Background()

	s, err := m.SessionQuery(ctx, "你好", "user-1")
	require.NoError(t, err)

	require.Len(t, s.Messages, 2)
	assert.Equal(t, llm.RoleSystem, s.Messages[0].Role)
	assert.Equal(t, "default prompt", s.Messages[0].Content)
	assert.Equal(t, llm.RoleUser, s.Messages[1].Role)
	assert.Equal(t, "你好", s.Messages[1].Content)
}

func TestSessionManager_QueryReplyRoundTrip(t *testing.T) {
	m := newTestManager(0)
	ctx := context.Background()

	_, err := m.SessionQuery(ctx, "question", "user-1")
	require.NoError(t, err)
	require.NoError(t, m.SessionReply(ctx, "answer", "user-1", 37))

	s, err := m.BuildSession(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, s.Messages, 3)
	assert.Equal(t, llm.RoleUser, s.Messages[1].Role)
	assert.Equal(t, llm.RoleAssistant, s.Messages[2].Role)
	assert.Equal(t, "answer", s.Messages[2].Content)
	assert.Equal(t, 37, s.TotalTokens)
}

func TestSessionManager_SessionIsolation(t *testing.T) {
	m := newTestManager(0)
	ctx := context.Background()

	_, err := m.SessionQuery(ctx, "alpha", "user-a")
	require.NoError(t, err)
	_, err = m.SessionQuery(ctx, "beta", "user-b")
	require.NoError(t, err)

	sa, err := m.BuildSession(ctx, "user-a")
	require.NoError(t, err)
	sb, err := m.BuildSession(ctx, "user-b")
	require.NoError(t, err)

	assert.Equal(t, "alpha", sa.Messages[1].Content)
	assert.Equal(t, "beta", sb.Messages[1].Content)
}

func TestSessionManager_TrimOnQuery(t *testing.T) {
	m := newTestManager(50)
	ctx := context.Background()

	_, err := m.SessionQuery(ctx, strings.Repeat("a", 40), "user-1")
	require.NoError(t, err)
	require.NoError(t, m.SessionReply(ctx, strings.Repeat("b", 40), "user-1", 80))

	s, err := m.SessionQuery(ctx, "short", "user-1")
	require.NoError(t, err)

	// 旧的一对被裁掉，只剩 system + 最新用户消息
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "short", s.Messages[1].Content)
}

func TestSessionManager_ClearSession(t *testing.T) {
	m := newTestManager(0)
	ctx := context.Background()

	_, err := m.SessionQuery(ctx, "hello", "user-1")
	require.NoError(t, err)

	require.NoError(t, m.ClearSession(ctx, "user-1"))

	s, err := m.BuildSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, s.Turns())

	// 再次清除不存在的会话不报错
	require.NoError(t, m.ClearSession(ctx, "user-1"))
	require.NoError(t, m.ClearSession(ctx, "never-seen"))
}

func TestSessionManager_ClearAllSession(t *testing.T) {
	m := newTestManager(0)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := m.SessionQuery(ctx, "hi", id)
		require.NoError(t, err)
	}

	require.NoError(t, m.ClearAllSession(ctx))

	for _, id := range []string{"u1", "u2", "u3"} {
		s, err := m.BuildSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, s.Turns())
	}
}

func TestSessionManager_ResetWithPrompt(t *testing.T) {
	m := newTestManager(0)
	ctx := context.Background()

	_, err := m.SessionQuery(ctx, "hello", "user-1")
	require.NoError(t, err)

	s, err := m.ResetWithPrompt(ctx, "user-1", "你是诗人")
	require.NoError(t, err)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "你是诗人", s.SystemPrompt)

	s, err = m.BuildSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "你是诗人", s.Messages[0].Content)
}

func TestSessionManager_IngestFiles(t *testing.T) {
	m := newTestManager(0)
	ctx := context.Background()

	s, err := m.BuildSession(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, m.IngestFiles(ctx, s, []string{"资料A", "资料B"}))
	assert.True(t, s.FilesLoaded)
	require.Len(t, s.Messages, 3)
	assert.Equal(t, llm.RoleSystem, s.Messages[1].Role)
	assert.Equal(t, "资料A", s.Messages[1].Content)

	// 重复摄取是 no-op：幂等判断以存储内的 FilesLoaded 为准
	require.NoError(t, m.IngestFiles(ctx, s, []string{"资料A", "资料B"}))
	assert.Len(t, s.Messages, 3)

	// 空内容是 no-op，不置位 FilesLoaded
	s2, err := m.BuildSession(ctx, "user-2")
	require.NoError(t, err)
	require.NoError(t, m.IngestFiles(ctx, s2, nil))
	assert.False(t, s2.FilesLoaded)
}

func TestSessionManager_SnapshotIsolation(t *testing.T) {
	m := newTestManager(0)
	ctx := context.Background()

	s, err := m.SessionQuery(ctx, "question", "user-1")
	require.NoError(t, err)
	require.NoError(t, m.SessionReply(ctx, "answer", "user-1", 10))

	// SessionQuery 返回的是快照，后续同键写入不会改写它
	assert.Equal(t, 1, s.Turns())

	// 存储内状态则已推进
	latest, err := m.BuildSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Turns())
}

func TestSessionManager_ConcurrentSameKey(t *testing.T) {
	m := newTestManager(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.SessionQuery(ctx, "msg", "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := m.BuildSession(ctx, "shared")
	require.NoError(t, err)
	// 按键互斥串行化：没有丢失更新
	assert.Equal(t, 20, s.Turns())
}
