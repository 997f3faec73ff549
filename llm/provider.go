package llm

import "context"

// Provider 定义了统一的 LLM 适配接口。
// 远端调用失败必须返回 *llm.Error，由上层根据 ErrorCode 做重试与降级，
// 而不是让原始传输错误穿透到消息处理层。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// HealthCheck 执行轻量级健康检查，返回延迟与可用性信息
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}
