package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wayshall/chatgpt-on-wechat/internal/metrics"
	"github.com/wayshall/chatgpt-on-wechat/llm"
)

// Bot 是暴露给消息管道的统一回复接口。
type Bot interface {
	// Reply 处理一条入站消息，恰好返回一个 Reply，从不返回 nil。
	Reply(ctx context.Context, query string, bctx *Context) *Reply
}

// FileExtractor 把本地文件转换为文本内容（Moonshot 文件抽取接口实现此契约）。
type FileExtractor interface {
	ExtractFile(ctx context.Context, path string) (string, error)
}

// ImageGenerator 按提示词生成图像（GLM CogView 实现此契约）。
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *llm.ImageGenerationRequest) (*llm.ImageGenerationResponse, error)
}

// ModelArgs 是生成参数。Temperature 与 TopP 的有效值域为 [0,1]。
type ModelArgs struct {
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// TextResult 是 replyText 的归一化结果。
// 失败降级时 CompletionTokens 为 0，Content 为占位文案。
type TextResult struct {
	TotalTokens      int
	CompletionTokens int
	Content          string
}

// Options 是 ChatBot 的可选依赖。
type Options struct {
	// ClearMemoryCommands 触发清除当前会话的指令串；为空时使用 #清除记忆
	ClearMemoryCommands []string

	// ClearAllCommand 触发清除全部会话的指令串；为空时使用 #清除所有
	ClearAllCommand string

	// Policy 重试策略；nil 时使用 DefaultRetryPolicy
	Policy *RetryPolicy

	// Extractor 可选的文件抽取客户端，用于把资料目录摄取为会话上下文
	Extractor FileExtractor

	// ImageGen 可选的图像生成客户端
	ImageGen ImageGenerator

	// ImageModel 图像生成模型
	ImageModel string

	// Limiter 可选的本地限流器；取不到令牌按 rate_limited 分类处理
	Limiter *rate.Limiter

	// Metrics 可选的指标收集器
	Metrics *metrics.Collector
}

// ChatBot 把一次会话轮次翻译为 Provider 请求，执行调用、
// 分类失败、有界重试，并返回归一化的 Reply。
type ChatBot struct {
	provider llm.Provider
	sessions *SessionManager
	args     ModelArgs
	opts     Options
	logger   *zap.Logger
}

// NewChatBot 创建 ChatBot。provider 与 sessions 必须非 nil。
func NewChatBot(provider llm.Provider, sessions *SessionManager, args ModelArgs, opts Options, logger *zap.Logger) *ChatBot {
	if len(opts.ClearMemoryCommands) == 0 {
		opts.ClearMemoryCommands = []string{"#清除记忆"}
	}
	if opts.ClearAllCommand == "" {
		opts.ClearAllCommand = "#清除所有"
	}
	if opts.Policy == nil {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.ImageModel == "" {
		opts.ImageModel = "cogview-3"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatBot{
		provider: provider,
		sessions: sessions,
		args:     args,
		opts:     opts,
		logger:   logger.With(zap.String("bot", provider.Name())),
	}
}

// Sessions 返回该 Bot 的会话管理器。
func (b *ChatBot) Sessions() *SessionManager { return b.sessions }

// Args 返回该 Bot 的默认生成参数。
func (b *ChatBot) Args() ModelArgs { return b.args }

// Name 返回底层 Provider 的标识。
func (b *ChatBot) Name() string { return b.provider.Name() }

// Reply 实现 Bot。调用恰好产生一个 Reply；
// 远端失败不会穿透，统一降级为 ERROR 回复。
func (b *ChatBot) Reply(ctx context.Context, query string, bctx *Context) *Reply {
	var reply *Reply
	switch bctx.Type {
	case ContextTypeText:
		reply = b.replyToText(ctx, query, bctx)
	case ContextTypeImageCreate:
		reply = b.replyToImageCreate(ctx, query, bctx)
	default:
		reply = NewReply(ReplyTypeError, fmt.Sprintf("Bot不支持处理%s类型的消息", bctx.Type))
	}
	if b.opts.Metrics != nil {
		b.opts.Metrics.RecordReply(b.Name(), string(reply.Type))
	}
	return reply
}

func (b *ChatBot) replyToText(ctx context.Context, query string, bctx *Context) *Reply {
	b.logger.Info("query received",
		zap.String("session_id", bctx.SessionID),
		zap.String("query", query),
	)
	sessionID := bctx.SessionID

	// 会话管理指令不经过模型
	for _, cmd := range b.opts.ClearMemoryCommands {
		if query == cmd {
			if err := b.sessions.ClearSession(ctx, sessionID); err != nil {
				b.logger.Error("clear session failed", zap.String("session_id", sessionID), zap.Error(err))
			}
			if b.opts.Metrics != nil {
				b.opts.Metrics.RecordSessionCleared()
			}
			return NewReply(ReplyTypeInfo, "记忆已清除")
		}
	}
	if query == b.opts.ClearAllCommand {
		if err := b.sessions.ClearAllSession(ctx); err != nil {
			b.logger.Error("clear all sessions failed", zap.Error(err))
		}
		return NewReply(ReplyTypeInfo, "所有人记忆已清除")
	}

	session, err := b.sessions.SessionQuery(ctx, query, sessionID)
	if err != nil {
		b.logger.Error("session query failed", zap.String("session_id", sessionID), zap.Error(err))
		return NewReply(ReplyTypeError, "我现在有点累了，等会再来吧")
	}

	args, tools := b.newArgsFromContext(ctx, bctx, session)
	result := b.replyText(ctx, session, args, tools)
	b.logger.Debug("reply generated",
		zap.String("session_id", sessionID),
		zap.Int("completion_tokens", result.CompletionTokens),
	)

	if result.TotalTokens == 0 {
		return NewReply(ReplyTypeError, result.Content)
	}

	if err := b.sessions.SessionReply(ctx, result.Content, sessionID, result.TotalTokens); err != nil {
		b.logger.Error("session reply failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if b.opts.Metrics != nil {
		b.opts.Metrics.RecordTokens(b.Name(), result.TotalTokens)
	}
	return NewReply(ReplyTypeText, result.Content)
}

func (b *ChatBot) replyToImageCreate(ctx context.Context, query string, bctx *Context) *Reply {
	if b.opts.ImageGen == nil {
		return NewReply(ReplyTypeError, "Bot不支持处理IMAGE_CREATE类型的消息")
	}
	if !bctx.IsAdmin {
		return NewReply(ReplyTypeText, "你让我画我就画？你以为你是谁？")
	}
	url, err := b.createImage(ctx, query)
	if err != nil {
		b.logger.Warn("image generation failed", zap.Error(err))
		return NewReply(ReplyTypeError, "图片生成失败，请稍后再试")
	}
	return NewReply(ReplyTypeImageURL, url)
}

// createImage 调用图像生成接口，可重试错误最多再试 3 次。
func (b *ChatBot) createImage(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= 3; attempt++ {
		resp, err := b.opts.ImageGen.GenerateImage(ctx, &llm.ImageGenerationRequest{
			Model:  b.opts.ImageModel,
			Prompt: prompt,
		})
		if err == nil {
			if len(resp.Data) == 0 || resp.Data[0].URL == "" {
				return "", fmt.Errorf("image response has no url")
			}
			b.logger.Info("image generated", zap.String("url", resp.Data[0].URL))
			return resp.Data[0].URL, nil
		}
		lastErr = err
		if !llm.IsRetryable(err) {
			break
		}
	}
	return "", lastErr
}

// newArgsFromContext 合并默认生成参数与按次覆盖，并在需要时
// 把资料目录摄取为会话上下文（由 FilesLoaded 保证每会话只摄取一次）。
func (b *ChatBot) newArgsFromContext(ctx context.Context, bctx *Context, session *Session) (ModelArgs, []llm.ToolSchema) {
	args := b.args
	if model := bctx.GetString("model"); model != "" {
		args.Model = model
	}

	var tools []llm.ToolSchema
	if v, ok := bctx.Get("tools"); ok {
		if ts, ok := v.([]llm.ToolSchema); ok {
			tools = ts
		}
	}

	fileDir := bctx.GetString("file_dir")
	if fileDir != "" && b.opts.Extractor != nil && !session.FilesLoaded {
		b.loadFiles(ctx, fileDir, session)
	}

	return args, tools
}

// loadFiles 读取目录下的所有常规文件，抽取文本后作为 system 消息加入会话。
func (b *ChatBot) loadFiles(ctx context.Context, dir string, session *Session) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		b.logger.Warn("read file dir failed", zap.String("dir", dir), zap.Error(err))
		return
	}

	var contents []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		content, err := b.opts.Extractor.ExtractFile(ctx, path)
		if err != nil {
			b.logger.Warn("extract file failed", zap.String("path", path), zap.Error(err))
			continue
		}
		contents = append(contents, content)
	}

	if err := b.sessions.IngestFiles(ctx, session, contents); err != nil {
		b.logger.Error("ingest files failed", zap.String("session_id", session.SessionID), zap.Error(err))
	}
}

// replyText 执行一次远端补全调用，失败时按分类策略表做有界重试。
// 所有失败都在此边界被吸收：返回降级占位结果而不是错误。
func (b *ChatBot) replyText(ctx context.Context, session *Session, args ModelArgs, tools []llm.ToolSchema) *TextResult {
	req := &llm.ChatRequest{
		TraceID:     uuid.NewString(),
		Model:       args.Model,
		Messages:    session.Messages,
		MaxTokens:   args.MaxTokens,
		Temperature: args.Temperature,
		TopP:        args.TopP,
		Tools:       tools,
	}

	policy := b.opts.Policy
	for attempt := 0; ; attempt++ {
		err := b.acquireToken()
		var resp *llm.ChatResponse
		if err == nil {
			resp, err = b.provider.Completion(ctx, req)
		}

		if err == nil {
			content := strings.TrimSpace(strings.ReplaceAll(resp.Text(), "<|endoftext|>", ""))
			b.logger.Info("completion ok",
				zap.String("trace_id", req.TraceID),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
			)
			return &TextResult{
				TotalTokens:      resp.Usage.TotalTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				Content:          content,
			}
		}

		class := ClassifyError(err)
		rule := policy.Rule(class)
		b.logger.Warn("completion failed",
			zap.String("trace_id", req.TraceID),
			zap.String("classification", string(class)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if b.opts.Metrics != nil {
			b.opts.Metrics.RecordProviderError(b.Name(), string(class))
		}

		// 重试上限在安排退避之前检查
		if rule.Retryable && attempt < policy.MaxRetries {
			if b.opts.Metrics != nil {
				b.opts.Metrics.RecordRetry(b.Name())
			}
			select {
			case <-ctx.Done():
				return &TextResult{CompletionTokens: 0, Content: rule.Placeholder}
			case <-time.After(rule.Backoff):
			}
			continue
		}

		if rule.ClearSession {
			if cerr := b.sessions.ClearSession(ctx, session.SessionID); cerr != nil {
				b.logger.Error("clear session after failure", zap.Error(cerr))
			} else if b.opts.Metrics != nil {
				b.opts.Metrics.RecordSessionCleared()
			}
		}
		return &TextResult{CompletionTokens: 0, Content: rule.Placeholder}
	}
}

// acquireToken 尝试从本地限流器取令牌，取不到返回 rate_limited 分类的错误。
func (b *ChatBot) acquireToken() error {
	if b.opts.Limiter == nil {
		return nil
	}
	if b.opts.Limiter.Allow() {
		return nil
	}
	return &llm.Error{
		Code:      llm.ErrRateLimited,
		Message:   "local rate limit exceeded",
		Retryable: true,
		Provider:  b.Name(),
	}
}
