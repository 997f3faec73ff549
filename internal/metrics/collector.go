// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 回复指标
	repliesTotal *prometheus.CounterVec

	// Provider 调用指标
	providerErrorsTotal *prometheus.CounterVec
	retriesTotal        *prometheus.CounterVec
	tokensUsed          *prometheus.CounterVec

	// 会话指标
	sessionsCleared prometheus.Counter
}

// NewCollector 创建指标收集器并注册到给定的 Registerer。
// 传 nil 使用 prometheus.DefaultRegisterer。
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		repliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatbot_replies_total",
				Help: "Total replies by bot and reply type",
			},
			[]string{"bot", "type"},
		),
		providerErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatbot_provider_errors_total",
				Help: "Provider call failures by provider and classification",
			},
			[]string{"provider", "classification"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatbot_provider_retries_total",
				Help: "Provider call retries by provider",
			},
			[]string{"provider"},
		),
		tokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatbot_tokens_used_total",
				Help: "Total tokens reported by providers",
			},
			[]string{"provider"},
		),
		sessionsCleared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatbot_sessions_cleared_total",
				Help: "Sessions cleared by command or error recovery",
			},
		),
	}

	reg.MustRegister(
		c.repliesTotal,
		c.providerErrorsTotal,
		c.retriesTotal,
		c.tokensUsed,
		c.sessionsCleared,
	)
	return c
}

// RecordReply 记录一次回复
func (c *Collector) RecordReply(bot, replyType string) {
	c.repliesTotal.WithLabelValues(bot, replyType).Inc()
}

// RecordProviderError 记录一次 Provider 调用失败
func (c *Collector) RecordProviderError(provider, classification string) {
	c.providerErrorsTotal.WithLabelValues(provider, classification).Inc()
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry(provider string) {
	c.retriesTotal.WithLabelValues(provider).Inc()
}

// RecordTokens 记录 token 用量
func (c *Collector) RecordTokens(provider string, tokens int) {
	c.tokensUsed.WithLabelValues(provider).Add(float64(tokens))
}

// RecordSessionCleared 记录一次会话清除
func (c *Collector) RecordSessionCleared() {
	c.sessionsCleared.Inc()
}
