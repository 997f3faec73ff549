package llm

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// 统一的 LLM 错误码，用于对齐 HTTP 状态、可重试性与降级策略。
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "LLM_INVALID_REQUEST"   // 参数/格式错误
	ErrUnauthorized     ErrorCode = "LLM_UNAUTHORIZED"      // 未授权或密钥失效
	ErrForbidden        ErrorCode = "LLM_FORBIDDEN"         // 权限或内容策略拒绝
	ErrRateLimited      ErrorCode = "LLM_RATE_LIMITED"      // 上游或本地限流
	ErrQuotaExceeded    ErrorCode = "LLM_QUOTA_EXCEEDED"    // 额度/配额用尽
	ErrModelOverloaded  ErrorCode = "LLM_MODEL_OVERLOADED"  // 模型过载
	ErrUpstreamTimeout  ErrorCode = "LLM_UPSTREAM_TIMEOUT"  // 上游超时
	ErrUpstreamError    ErrorCode = "LLM_UPSTREAM_ERROR"    // 上游 5xx
	ErrConnectionFailed ErrorCode = "LLM_CONNECTION_FAILED" // 网络不可达
)

type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// CodeOf 返回错误的分类码。非 *Error 的错误按传输层特征归类：
// 超时 → ErrUpstreamTimeout，连接失败 → ErrConnectionFailed，
// 其余返回空串，由调用方按未分类处理。
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ErrUpstreamTimeout
		}
		return ErrConnectionFailed
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ErrConnectionFailed
	}
	return ""
}

// IsRetryable 检查错误是否标记为可重试。
func IsRetryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}
