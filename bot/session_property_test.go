package bot

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/wayshall/chatgpt-on-wechat/llm"
)

// 历史裁剪的结构性质：任意轮次序列经任意预算裁剪后，
// 前导 system 消息保留、最新消息保留、历史仍是原序列的后缀。
func TestSession_Trim_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		turns := rapid.IntRange(1, 30).Draw(rt, "turns")
		budget := rapid.IntRange(1, 500).Draw(rt, "budget")

		s := NewSession("prop", "sys")
		for i := 0; i < turns; i++ {
			n := rapid.IntRange(1, 60).Draw(rt, "query_len")
			s.AddQuery(strings.Repeat("q", n))
			if rapid.Bool().Draw(rt, "has_reply") {
				m := rapid.IntRange(1, 60).Draw(rt, "reply_len")
				s.AddReply(strings.Repeat("r", m))
			}
		}
		before := append([]llm.Message(nil), s.Messages...)

		dropped := s.Trim(charTokenizer{}, budget)

		// system 消息不被裁剪
		if s.Messages[0].Role != llm.RoleSystem {
			rt.Fatalf("leading system message lost")
		}
		// 至少保留一条非 system 消息
		if len(s.Messages) < 2 {
			rt.Fatalf("trim removed the latest message")
		}
		// 丢弃数与长度变化一致
		if len(before)-len(s.Messages) != dropped {
			rt.Fatalf("dropped=%d but length went %d -> %d", dropped, len(before), len(s.Messages))
		}
		// 裁剪只从最老端进行：剩余历史是原历史的后缀
		tail := before[len(before)-(len(s.Messages)-1):]
		for i, m := range s.Messages[1:] {
			if m.Role != tail[i].Role || m.Content != tail[i].Content {
				rt.Fatalf("history is not a suffix of the original at %d", i)
			}
		}
		// 仍超预算时必然已无法继续成对丢弃
		count, err := (charTokenizer{}).CountMessages(toTokenizerMessages(s.Messages))
		if err != nil {
			rt.Fatalf("count: %v", err)
		}
		if count > budget && len(s.Messages) > 2 {
			rt.Fatalf("over budget (%d > %d) with %d droppable messages left", count, budget, len(s.Messages))
		}
	})
}
