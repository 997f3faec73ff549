// Package plugins 定义消息处理管道的最小插件事件面：
// 插件可以在默认回复路径之前改写入站上下文（内容、Bot、工具、资料目录）。
package plugins

import (
	"context"

	"github.com/wayshall/chatgpt-on-wechat/bot"
)

// EventAction 标记插件处理后的管道走向。
type EventAction int

const (
	// ActionContinue 继续交给后续插件处理
	ActionContinue EventAction = iota

	// ActionBreak 事件结束，改写后的上下文进入默认回复路径
	ActionBreak

	// ActionBreakPass 事件结束且跳过默认回复路径
	ActionBreakPass
)

// EventContext 携带一次入站消息的可变上下文。
// 插件可以改写 Context 的内容，也可以替换负责回复的 Bot。
type EventContext struct {
	Context *bot.Context
	Bot     bot.Bot
	Action  EventAction
}

// Plugin 是消息处理插件的契约。
type Plugin interface {
	// Name 返回插件标识
	Name() string

	// OnHandleContext 在默认回复路径之前处理入站上下文
	OnHandleContext(ctx context.Context, ectx *EventContext)
}
