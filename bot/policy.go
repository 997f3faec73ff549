package bot

import (
	"time"

	"github.com/wayshall/chatgpt-on-wechat/llm"
)

// Classification 是 Provider 调用失败的分类桶，
// 驱动重试、退避与用户可见占位文案。
type Classification string

const (
	ClassRateLimited      Classification = "rate_limited"
	ClassTimedOut         Classification = "timed_out"
	ClassConnectionFailed Classification = "connection_failed"
	ClassTransientError   Classification = "transient_server_error"
	ClassUnclassified     Classification = "unclassified"
)

// ClassifyError 把 Provider 调用错误归入分类桶。
// 分类只在调用点计算一次，之后按策略表匹配。
func ClassifyError(err error) Classification {
	switch llm.CodeOf(err) {
	case llm.ErrRateLimited:
		return ClassRateLimited
	case llm.ErrUpstreamTimeout:
		return ClassTimedOut
	case llm.ErrConnectionFailed:
		return ClassConnectionFailed
	case llm.ErrUpstreamError, llm.ErrModelOverloaded:
		return ClassTransientError
	default:
		return ClassUnclassified
	}
}

// RetryRule 是一个分类桶的重试规则。
type RetryRule struct {
	// Retryable 标记该分类是否允许重试
	Retryable bool

	// Backoff 是重试前的等待时间
	Backoff time.Duration

	// Placeholder 是该分类的用户可见占位文案
	Placeholder string

	// ClearSession 标记终态失败时是否清除会话历史，
	// 防止被污染的上下文带入后续轮次
	ClearSession bool
}

// RetryPolicy 按分类定义重试策略。
type RetryPolicy struct {
	// MaxRetries 是重试次数上限（不含首次调用）
	MaxRetries int

	// Rules 按分类给出规则
	Rules map[Classification]RetryRule
}

// DefaultRetryPolicy 返回默认策略：
//
//	rate_limited           可重试  退避 20s
//	timed_out              可重试  退避 5s
//	transient_server_error 可重试  退避 10s
//	connection_failed      不可重试
//	unclassified           不可重试，终态清除会话历史
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 2,
		Rules: map[Classification]RetryRule{
			ClassRateLimited: {
				Retryable:   true,
				Backoff:     20 * time.Second,
				Placeholder: "提问太快啦，请休息一下再问我吧",
			},
			ClassTimedOut: {
				Retryable:   true,
				Backoff:     5 * time.Second,
				Placeholder: "我没有收到你的消息",
			},
			ClassTransientError: {
				Retryable:   true,
				Backoff:     10 * time.Second,
				Placeholder: "请再问我一次",
			},
			ClassConnectionFailed: {
				Retryable:   false,
				Placeholder: "我连接不到你的网络",
			},
			ClassUnclassified: {
				Retryable:    false,
				Placeholder:  "我现在有点累了，等会再来吧",
				ClearSession: true,
			},
		},
	}
}

// Rule 返回分类对应的规则，未知分类按 unclassified 处理。
func (p *RetryPolicy) Rule(c Classification) RetryRule {
	if r, ok := p.Rules[c]; ok {
		return r
	}
	return p.Rules[ClassUnclassified]
}
