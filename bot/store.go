package bot

import (
	"context"
	"sync"
)

// SessionStore 是会话的持久化后端。
// 实现不需要自己做并发控制以外的一致性保证：
// SessionManager 对同一会话键的读-改-写做了串行化。
type SessionStore interface {
	// Load 按键取回会话；不存在时返回 (nil, false, nil)。
	Load(ctx context.Context, sessionID string) (*Session, bool, error)

	// Save 写入会话。
	Save(ctx context.Context, s *Session) error

	// Delete 删除一个会话；不存在时不报错。
	Delete(ctx context.Context, sessionID string) error

	// Clear 删除全部会话。
	Clear(ctx context.Context) error
}

// MemoryStore 是进程内的 SessionStore 实现。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore 创建空的内存会话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Load 返回副本：调用方拿到的会话与存储内部状态不共享内存，
// 锁外读取不会与后续同键写入竞争（与 Redis 实现的语义一致）。
func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	return nil
}
