package bot

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wayshall/chatgpt-on-wechat/llm"
	"github.com/wayshall/chatgpt-on-wechat/llm/tokenizer"
)

// SessionManager 是显式的会话注册表（没有包级全局状态）。
// 对同一会话键的读-改-写通过按键互斥锁串行化；
// 不同会话键之间互不影响。
type SessionManager struct {
	store        SessionStore
	tok          tokenizer.Tokenizer
	maxTokens    int
	systemPrompt string
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSessionManager 创建会话管理器。
// systemPrompt 是新会话的默认 system prompt；
// maxTokens 是历史裁剪的 token 预算，<=0 表示不裁剪。
func NewSessionManager(store SessionStore, tok tokenizer.Tokenizer, maxTokens int, systemPrompt string, logger *zap.Logger) *SessionManager {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		store:        store,
		tok:          tok,
		maxTokens:    maxTokens,
		systemPrompt: systemPrompt,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
	}
}

// lockFor 返回会话键的互斥锁，按需创建。
func (m *SessionManager) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// loadOrCreate 取回或新建会话。调用方必须已持有该键的锁。
func (m *SessionManager) loadOrCreate(ctx context.Context, sessionID string) (*Session, error) {
	s, ok, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s = NewSession(sessionID, m.systemPrompt)
	}
	return s, nil
}

// SessionQuery 取回或新建会话，追加一条用户消息，
// 超出预算时裁剪最老的非 system 消息，然后返回会话供 Provider 调用使用。
func (m *SessionManager) SessionQuery(ctx context.Context, query, sessionID string) (*Session, error) {
	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.AddQuery(query)
	if dropped := s.Trim(m.tok, m.maxTokens); dropped > 0 {
		m.logger.Debug("trimmed session history",
			zap.String("session_id", sessionID),
			zap.Int("dropped", dropped),
		)
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SessionReply 追加一条助手消息并记录最新的 token 用量。
func (m *SessionManager) SessionReply(ctx context.Context, content, sessionID string, totalTokens int) error {
	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.loadOrCreate(ctx, sessionID)
	if err != nil {
		return err
	}
	s.AddReply(content)
	s.TotalTokens = totalTokens
	return m.store.Save(ctx, s)
}

// BuildSession 取回或新建会话但不追加消息，
// 供调用方在决定用户文本之前检查/重置状态（如人设切换）。
func (m *SessionManager) BuildSession(ctx context.Context, sessionID string) (*Session, error) {
	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ResetWithPrompt 为会话安装新的 system prompt 并丢弃旧历史。
func (m *SessionManager) ResetWithPrompt(ctx context.Context, sessionID, systemPrompt string) (*Session, error) {
	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()

	s, err := m.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.ResetWithPrompt(systemPrompt)
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// IngestFiles 把抽取出的文件内容作为 system 消息追加到会话，
// 并置位 FilesLoaded（幂等保护：同一目录只会被摄取一次）。
func (m *SessionManager) IngestFiles(ctx context.Context, s *Session, contents []string) error {
	if len(contents) == 0 {
		return nil
	}
	l := m.lockFor(s.SessionID)
	l.Lock()
	defer l.Unlock()

	// 幂等性以存储内的状态为准：并发调用方各自持有快照，
	// 只有第一个进锁的会真正写入。
	stored, err := m.loadOrCreate(ctx, s.SessionID)
	if err != nil {
		return err
	}
	if !stored.FilesLoaded {
		for _, content := range contents {
			stored.Messages = append(stored.Messages, llm.Message{Role: llm.RoleSystem, Content: content})
		}
		stored.FilesLoaded = true
		if err := m.store.Save(ctx, stored); err != nil {
			return err
		}
	}
	*s = *stored
	return nil
}

// ClearSession 删除一个会话的历史并重置计数；会话不存在时不报错。
func (m *SessionManager) ClearSession(ctx context.Context, sessionID string) error {
	l := m.lockFor(sessionID)
	l.Lock()
	defer l.Unlock()
	return m.store.Delete(ctx, sessionID)
}

// ClearAllSession 清除全部会话。
// 按键锁保留复用，避免与并发持锁者竞争同一键的两把锁。
func (m *SessionManager) ClearAllSession(ctx context.Context) error {
	return m.store.Clear(ctx)
}
