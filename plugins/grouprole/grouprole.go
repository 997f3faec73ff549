// Package grouprole 实现按群组加载角色扮演人设的插件：
// 为群组绑定人设 system prompt、可选的 Bot/模型覆盖、
// 提示词包装模板和资料目录。
package grouprole

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/wayshall/chatgpt-on-wechat/bot"
	"github.com/wayshall/chatgpt-on-wechat/llm"
	"github.com/wayshall/chatgpt-on-wechat/plugins"
)

// Role 是角色目录中的一条人设配置。
type Role struct {
	GroupName string           `json:"group_name"`
	RoleDesc  string           `json:"role_desc"`
	Model     string           `json:"model,omitempty"`
	BotType   string           `json:"bot_type,omitempty"`
	Wrapper   string           `json:"wrapper,omitempty"`
	Tools     []llm.ToolSchema `json:"tools,omitempty"`
	FileDir   string           `json:"file_dir,omitempty"`
}

// Catalog 是磁盘上的角色目录。
type Catalog struct {
	Roles []Role `json:"roles"`
}

// GroupRolePlay 绑定一个群组的人设与可选的专属 Bot。
// 加载后不可变，按消息以 group_name 查找。
type GroupRolePlay struct {
	role Role
	bot  *bot.ChatBot // nil 表示使用默认 Bot
}

// newGroupRolePlay 构造人设。引用了不支持的模型标识时立即失败，
// 使整个插件初始化中止，而不是降级为部分人设可用。
func newGroupRolePlay(role Role, factory *bot.BotFactory, useCompatEndpoint bool) (*GroupRolePlay, error) {
	if role.GroupName == "" {
		return nil, fmt.Errorf("role missing group_name")
	}
	if role.RoleDesc == "" {
		return nil, fmt.Errorf("role %q missing role_desc", role.GroupName)
	}
	// 用实际渲染校验模板：缺槽位、多槽位、%d 等其它占位符
	// 以及转义的 %%s 都会在渲染结果里留下 "%!" 痕迹。
	if role.Wrapper != "" && strings.Contains(fmt.Sprintf(role.Wrapper, "x"), "%!") {
		return nil, fmt.Errorf("role %q wrapper must have exactly one %%s slot", role.GroupName)
	}

	g := &GroupRolePlay{role: role}

	botType := bot.BotType(role.BotType)
	if botType == "" && role.Model != "" {
		bt, err := bot.ResolveBotType(role.Model, useCompatEndpoint)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", role.GroupName, err)
		}
		botType = bt
	}
	if botType != "" {
		b, err := factory.CreateBot(botType, role.Model)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", role.GroupName, err)
		}
		g.bot = b
	}
	return g, nil
}

// Action 在返回最终提示词之前做人设切换检测：
// 会话存储的 system prompt 与人设不一致时重置会话并安装新 prompt
// （检测机制就是 prompt 内容相等性，没有显式的生命周期事件）。
func (g *GroupRolePlay) Action(ctx context.Context, b *bot.ChatBot, sessionID, userAction string) (string, error) {
	session, err := b.Sessions().BuildSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.SystemPrompt != g.role.RoleDesc {
		if _, err := b.Sessions().ResetWithPrompt(ctx, sessionID, g.role.RoleDesc); err != nil {
			return "", err
		}
	}
	if g.role.Wrapper != "" {
		return fmt.Sprintf(g.role.Wrapper, userAction), nil
	}
	return userAction, nil
}

// Plugin 是群组人设插件。
type Plugin struct {
	roles      map[string]*GroupRolePlay
	defaultBot *bot.ChatBot
	logger     *zap.Logger
}

// New 从 JSON 角色目录加载插件。
// 目录文件缺失、格式错误或任何人设初始化失败都会中止加载。
func New(configPath string, factory *bot.BotFactory, defaultBot *bot.ChatBot, useCompatEndpoint bool, logger *zap.Logger) (*Plugin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read role catalog %s: %w", configPath, err)
	}

	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse role catalog %s: %w", configPath, err)
	}

	roles := make(map[string]*GroupRolePlay, len(catalog.Roles))
	for _, role := range catalog.Roles {
		g, err := newGroupRolePlay(role, factory, useCompatEndpoint)
		if err != nil {
			return nil, err
		}
		roles[role.GroupName] = g
	}

	logger.Info("grouprole plugin loaded", zap.Int("roles", len(roles)))
	return &Plugin{
		roles:      roles,
		defaultBot: defaultBot,
		logger:     logger.With(zap.String("plugin", "grouprole")),
	}, nil
}

// Name 实现 plugins.Plugin。
func (p *Plugin) Name() string { return "grouprole" }

// OnHandleContext 按群组查找人设，命中时改写上下文
// （内容、Bot、工具、资料目录）并结束事件进入默认回复路径。
func (p *Plugin) OnHandleContext(ctx context.Context, ectx *plugins.EventContext) {
	bctx := ectx.Context
	if bctx.Type != bot.ContextTypeText {
		return
	}

	group, ok := p.roles[bctx.GroupName]
	if !ok {
		return
	}
	p.logger.Info("group role matched", zap.String("group", bctx.GroupName))

	b := p.defaultBot
	if group.bot != nil {
		b = group.bot
		ectx.Bot = group.bot
	}

	prompt, err := group.Action(ctx, b, bctx.SessionID, bctx.Content)
	if err != nil {
		p.logger.Error("role action failed", zap.String("group", bctx.GroupName), zap.Error(err))
		return
	}
	bctx.Content = prompt

	if len(group.role.Tools) > 0 {
		bctx.Set("tools", group.role.Tools)
	}
	if group.role.FileDir != "" {
		bctx.Set("file_dir", group.role.FileDir)
	}

	// 事件结束，进入默认处理逻辑
	ectx.Action = plugins.ActionBreak
}
