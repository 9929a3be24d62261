package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 发布订阅的连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Redis 通过 PUBLISH/SUBSCRIBE 推送事件，Redis 中不留存任何数据。
type Redis struct {
	client  *redis.Client
	channel string
	log     *slog.Logger
}

// NewRedis 创建 Redis 事件通道并检查连通性。
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "swaprunner:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &Redis{client: client, channel: channel, log: componentLogger()}, nil
}

// Publish 将事件发布到频道。
func (r *Redis) Publish(ctx context.Context, e Event) error {
	raw, err := encode(e)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅频道并逐条交给 handler，无法解析的消息记录日志后跳过。
func (r *Redis) Subscribe(ctx context.Context, handler Handler) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅 Redis 频道失败: %w", err)
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			dispatch(ctx, r.log, "redis", []byte(msg.Payload), handler)
		}
	}
}

// Close 关闭 Redis 连接。
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
