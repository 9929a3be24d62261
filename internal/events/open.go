package events

import (
	"context"
	"fmt"
	"strings"
)

// Config 选择事件通道实现。
type Config struct {
	// Driver 取值 none、memory、redis、rabbitmq。
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// Bus 同时具备发布与订阅能力。
type Bus interface {
	Publisher
	Subscriber
}

// Open 按配置创建事件通道；driver 为空或 none 时返回 nil。
func Open(ctx context.Context, cfg Config) (Bus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryBus(0), nil
	case "redis":
		bus, err := NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "rabbitmq", "amqp":
		bus, err := NewRabbitMQ(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
}
