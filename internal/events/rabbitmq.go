package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 的连接参数。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// RabbitMQ 通过非持久化的 fanout 交换机推送事件；订阅方各自声明独占的临时队列。
type RabbitMQ struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *slog.Logger
}

// NewRabbitMQ 建立连接并声明交换机。
func NewRabbitMQ(cfg RabbitMQConfig) (*RabbitMQ, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "swaprunner.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, false, true, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 交换机失败: %w", err)
	}
	return &RabbitMQ{conn: conn, ch: ch, exchange: exchange, log: componentLogger()}, nil
}

// Publish 将事件投递到交换机，消息不持久化。
func (q *RabbitMQ) Publish(ctx context.Context, e Event) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 未初始化")
	}
	raw, err := encode(e)
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, q.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    e.ID,
		Timestamp:    e.At,
		Body:         raw,
	})
}

// Subscribe 声明临时队列并绑定到交换机，自动确认消费。
func (q *RabbitMQ) Subscribe(ctx context.Context, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 未初始化")
	}
	queue, err := q.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	if err := q.ch.QueueBind(queue.Name, "", q.exchange, false, nil); err != nil {
		return fmt.Errorf("绑定 RabbitMQ 队列失败: %w", err)
	}
	msgs, err := q.ch.ConsumeWithContext(ctx, queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			dispatch(ctx, q.log, "rabbitmq", msg.Body, handler)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQ) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
