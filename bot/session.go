package bot

import (
	"github.com/wayshall/chatgpt-on-wechat/llm"
	"github.com/wayshall/chatgpt-on-wechat/llm/tokenizer"
)

// Session 保存一个会话键下的有序消息历史和元数据。
// 不变式：只要有历史，Messages[0] 必为 system 消息，且反映当前 SystemPrompt；
// SystemPrompt 变化时整个历史被重置而不是追加第二条 system 消息。
type Session struct {
	SessionID    string        `json:"session_id"`
	SystemPrompt string        `json:"system_prompt"`
	Messages     []llm.Message `json:"messages"`
	FilesLoaded  bool          `json:"files_loaded"`
	TotalTokens  int           `json:"total_tokens"`
}

// NewSession 创建带前导 system 消息的新会话。
func NewSession(sessionID, systemPrompt string) *Session {
	s := &Session{
		SessionID:    sessionID,
		SystemPrompt: systemPrompt,
	}
	s.Reset()
	return s
}

// Reset 丢弃全部历史，只保留当前 SystemPrompt 的前导 system 消息。
func (s *Session) Reset() {
	s.Messages = []llm.Message{{Role: llm.RoleSystem, Content: s.SystemPrompt}}
	s.FilesLoaded = false
	s.TotalTokens = 0
}

// ResetWithPrompt 安装新的 system prompt 并重置历史。
func (s *Session) ResetWithPrompt(systemPrompt string) {
	s.SystemPrompt = systemPrompt
	s.Reset()
}

// AddQuery 追加一条用户消息。
func (s *Session) AddQuery(query string) {
	s.Messages = append(s.Messages, llm.Message{Role: llm.RoleUser, Content: query})
}

// AddReply 追加一条助手消息。
func (s *Session) AddReply(content string) {
	s.Messages = append(s.Messages, llm.Message{Role: llm.RoleAssistant, Content: content})
}

// Clone 返回会话的副本（消息切片独立），调用方可在会话锁外安全读写。
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = make([]llm.Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// Turns 返回除前导 system 消息外的历史轮数。
func (s *Session) Turns() int {
	n := 0
	for _, m := range s.Messages {
		if m.Role != llm.RoleSystem {
			n++
		}
	}
	return n
}

// Trim 在超出 token 预算时从最老的非 system 消息开始成对丢弃，
// 永不丢弃前导 system 消息，至少保留最近一条用户消息。
// 返回丢弃的消息条数。
func (s *Session) Trim(tok tokenizer.Tokenizer, maxTokens int) int {
	if tok == nil || maxTokens <= 0 {
		return 0
	}
	dropped := 0
	for len(s.Messages) > 2 {
		count, err := tok.CountMessages(toTokenizerMessages(s.Messages))
		if err != nil || count <= maxTokens {
			break
		}
		// 丢最老的一对：紧随 system 之后的消息，以及成对的助手回复
		s.Messages = append(s.Messages[:1], s.Messages[2:]...)
		dropped++
		if len(s.Messages) > 2 && s.Messages[1].Role == llm.RoleAssistant {
			s.Messages = append(s.Messages[:1], s.Messages[2:]...)
			dropped++
		}
	}
	return dropped
}

func toTokenizerMessages(msgs []llm.Message) []tokenizer.Message {
	out := make([]tokenizer.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
