package bot

// ContextType 标记入站消息的类型。
type ContextType string

const (
	ContextTypeText        ContextType = "TEXT"
	ContextTypeImageCreate ContextType = "IMAGE_CREATE"
)

// Context 携带一次入站消息的全部上下文：
// 消息类型、会话键、来源群组、管理员标记，以及插件写入的按键查找项
// （模型覆盖、工具列表、资料目录等）。
type Context struct {
	Type      ContextType
	SessionID string
	Content   string
	GroupName string
	IsAdmin   bool

	kv map[string]any
}

// NewContext 创建一个文本消息上下文。
func NewContext(t ContextType, sessionID string) *Context {
	return &Context{
		Type:      t,
		SessionID: sessionID,
		kv:        make(map[string]any),
	}
}

// Get 按键查找上下文项。
func (c *Context) Get(key string) (any, bool) {
	if c.kv == nil {
		return nil, false
	}
	v, ok := c.kv[key]
	return v, ok
}

// GetString 按键查找字符串项，缺失或类型不符返回空串。
func (c *Context) GetString(key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Set 写入上下文项。
func (c *Context) Set(key string, value any) {
	if c.kv == nil {
		c.kv = make(map[string]any)
	}
	c.kv[key] = value
}
