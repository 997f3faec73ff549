// =============================================================================
// WechatBot 主入口
// =============================================================================
// 聊天机器人后端进程：加载配置、构造 Bot、加载群组人设插件，
// 从标准输入读取消息并输出回复（接入层由外部网关承担）。
//
// 使用方法:
//
//	wechatbot                              # 默认配置启动
//	wechatbot --config config.yaml         # 指定配置文件
//	wechatbot --roles roles.json           # 指定群组人设目录
//	wechatbot --version                    # 显示版本信息
// =============================================================================
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wayshall/chatgpt-on-wechat/bot"
	"github.com/wayshall/chatgpt-on-wechat/config"
	"github.com/wayshall/chatgpt-on-wechat/internal/metrics"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers/kimi"
	"github.com/wayshall/chatgpt-on-wechat/llm/providers/openaicompat"
	"github.com/wayshall/chatgpt-on-wechat/plugins"
	"github.com/wayshall/chatgpt-on-wechat/plugins/grouprole"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	rolesPath := flag.String("roles", "", "Path to group role catalog (JSON)")
	metricsAddr := flag.String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9090)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("wechatbot %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *rolesPath != "" {
		cfg.RoleCatalog = *rolesPath
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting wechatbot",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("model", cfg.Model),
	)

	collector := metrics.NewCollector(nil)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	factory := bot.NewBotFactory(buildFactoryConfig(cfg, collector, logger), logger)

	defaultBot, err := factory.CreateDefaultBot(cfg.Model, cfg.UseCompatEndpoint)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Moonshot 文件空间清理：上次运行上传的抽取文件在启动时统一删除
	if cfg.Kimi.APIKey != "" {
		cleanupKimiFiles(ctx, cfg, logger)
	}

	checkProviders(ctx, factory, logger)

	var rolePlugins []plugins.Plugin
	if cfg.RoleCatalog != "" {
		p, err := grouprole.New(cfg.RoleCatalog, factory, defaultBot, cfg.UseCompatEndpoint, logger)
		if err != nil {
			logger.Fatal("Failed to load group role catalog", zap.Error(err))
		}
		rolePlugins = append(rolePlugins, p)
	}

	runLoop(ctx, defaultBot, rolePlugins, logger)
	logger.Info("wechatbot stopped")
}

// =============================================================================
// 💬 消息循环
// =============================================================================

// runLoop 从标准输入逐行读取消息，经插件链分发后交给 Bot 回复。
// 行格式: [group:<群名>] [admin] [image] <内容>，前缀均可省略。
func runLoop(ctx context.Context, defaultBot *bot.ChatBot, plist []plugins.Plugin, logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("wechatbot ready (Ctrl+D to exit)")
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		bctx := parseLine(line)
		ectx := &plugins.EventContext{Context: bctx, Bot: defaultBot}
		for _, p := range plist {
			p.OnHandleContext(ctx, ectx)
			if ectx.Action == plugins.ActionBreak || ectx.Action == plugins.ActionBreakPass {
				break
			}
		}
		if ectx.Action == plugins.ActionBreakPass {
			continue
		}

		b := ectx.Bot
		if b == nil {
			b = defaultBot
		}
		reply := b.Reply(ctx, bctx.Content, bctx)
		if reply != nil {
			fmt.Printf("[%s] %s\n", reply.Type, reply.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("stdin read failed", zap.Error(err))
	}
}

// parseLine 解析一行输入为消息上下文。
func parseLine(line string) *bot.Context {
	ctxType := bot.ContextTypeText
	sessionID := "stdin"
	group := ""
	admin := false

	for {
		switch {
		case strings.HasPrefix(line, "[group:"):
			end := strings.Index(line, "]")
			if end < 0 {
				break
			}
			group = line[len("[group:"):end]
			line = strings.TrimSpace(line[end+1:])
			continue
		case strings.HasPrefix(line, "[admin]"):
			admin = true
			line = strings.TrimSpace(line[len("[admin]"):])
			continue
		case strings.HasPrefix(line, "[image]"):
			ctxType = bot.ContextTypeImageCreate
			line = strings.TrimSpace(line[len("[image]"):])
			continue
		}
		break
	}

	if group != "" {
		sessionID = "group:" + group
	}
	bctx := bot.NewContext(ctxType, sessionID)
	bctx.Content = line
	bctx.GroupName = group
	bctx.IsAdmin = admin
	return bctx
}

// =============================================================================
// 🔧 装配
// =============================================================================

func buildFactoryConfig(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) bot.FactoryConfig {
	fc := bot.FactoryConfig{
		Kimi: providers.KimiConfig{BaseProviderConfig: providers.BaseProviderConfig{
			APIKey:  cfg.Kimi.APIKey,
			BaseURL: cfg.Kimi.BaseURL,
			Timeout: cfg.Kimi.Timeout.Std(),
		}},
		GLM: providers.GLMConfig{BaseProviderConfig: providers.BaseProviderConfig{
			APIKey:  cfg.GLM.APIKey,
			BaseURL: cfg.GLM.BaseURL,
			Timeout: cfg.GLM.Timeout.Std(),
		}},
		Compat: openaicompat.Config{
			ProviderName: cfg.Compat.Name,
			APIKey:       cfg.Compat.APIKey,
			BaseURL:      cfg.Compat.BaseURL,
			DefaultModel: cfg.Compat.Model,
			Timeout:      cfg.Compat.Timeout.Std(),
		},
		Args: bot.ModelArgs{
			Model:       cfg.Model,
			Temperature: float32(cfg.Temperature),
			TopP:        float32(cfg.TopP),
			MaxTokens:   cfg.MaxTokens,
		},
		SessionMaxTokens:    cfg.SessionMaxTokens,
		SystemPrompt:        cfg.SystemPrompt,
		ClearMemoryCommands: cfg.ClearMemoryCmds,
		RatePerMinute:       float64(cfg.RateLimitPerMinute),
		Metrics:             collector,
	}

	if cfg.Redis.Enabled {
		fc.NewStore = func(botName string) (bot.SessionStore, error) {
			return bot.NewRedisStore(bot.RedisStoreConfig{
				Addr:      cfg.Redis.Addr,
				Password:  cfg.Redis.Password,
				DB:        cfg.Redis.DB,
				KeyPrefix: fmt.Sprintf("session:%s:", botName),
				TTL:       cfg.Redis.TTL.Std(),
			}, logger)
		}
	}
	return fc
}

// checkProviders 对已创建的 Provider 做一次启动健康检查，失败只告警不中止。
func checkProviders(ctx context.Context, factory *bot.BotFactory, logger *zap.Logger) {
	registry := factory.Providers()
	def, _ := registry.Default()
	for _, name := range registry.List() {
		p, ok := registry.Get(name)
		if !ok {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		status, err := p.HealthCheck(cctx)
		cancel()
		if err != nil {
			logger.Warn("provider health check failed", zap.String("provider", name), zap.Error(err))
			continue
		}
		logger.Info("provider healthy",
			zap.String("provider", name),
			zap.Bool("default", p == def),
			zap.Duration("latency", status.Latency),
		)
	}
}

func cleanupKimiFiles(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	p := kimi.New(providers.KimiConfig{BaseProviderConfig: providers.BaseProviderConfig{
		APIKey:  cfg.Kimi.APIKey,
		BaseURL: cfg.Kimi.BaseURL,
		Timeout: cfg.Kimi.Timeout.Std(),
	}}, logger)

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := p.CleanupFiles(cctx); err != nil {
		logger.Warn("kimi file cleanup failed", zap.Error(err))
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

// =============================================================================
// 📋 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
