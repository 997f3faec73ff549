package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStoreConfig Redis 会话存储配置。
type RedisStoreConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀，用于隔离不同 Bot 的会话空间
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 会话过期时间；0 表示不过期
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// RedisStore 是 Redis 后端的 SessionStore 实现，
// 会话以 JSON 序列化存储，进程重启后历史仍在。
type RedisStore struct {
	client *redis.Client
	cfg    RedisStoreConfig
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 会话存储并验证连接。
func NewRedisStore(cfg RedisStoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "session:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis session store initialized",
		zap.String("addr", cfg.Addr),
		zap.String("key_prefix", cfg.KeyPrefix),
	)

	return &RedisStore{client: client, cfg: cfg, logger: logger}, nil
}

func (r *RedisStore) key(sessionID string) string {
	return r.cfg.KeyPrefix + sessionID
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*Session, bool, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.SessionID, err)
	}
	if err := r.client.Set(ctx, r.key(s.SessionID), data, r.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", s.SessionID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.cfg.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan sessions: %w", err)
	}
	return nil
}

// Close 关闭底层 Redis 连接。
func (r *RedisStore) Close() error {
	return r.client.Close()
}
