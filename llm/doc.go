// Package llm 定义统一的 LLM Provider 契约：消息、请求/响应结构、
// 带分类码的错误类型以及线程安全的 Provider 注册表。
//
// 所有远端调用失败都在 Provider 边界被归一化为 *llm.Error，
// 上层（bot 包）根据 ErrorCode 决定重试与降级策略。
package llm
