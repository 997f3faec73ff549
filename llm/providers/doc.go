// Package providers 提供各 LLM 提供者共享的 OpenAI 兼容线格式、
// HTTP 状态码到错误分类的映射以及配置结构。
package providers
