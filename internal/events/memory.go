package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryBus 使用 channel 在进程内转发事件，同时保留最近的事件供测试检查。
type MemoryBus struct {
	ch      chan Event
	mu      sync.Mutex
	closed  bool
	history []Event
	limit   int
	dropped int
}

// NewMemoryBus 创建内存总线；size 为订阅缓冲与历史上限。
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 256
	}
	return &MemoryBus{ch: make(chan Event, size), limit: size}
}

// Publish 记录事件并尽力转发；缓冲区满时丢弃转发，不阻塞调用方。
func (b *MemoryBus) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("事件总线已关闭")
	}
	b.history = append(b.history, e)
	if len(b.history) > b.limit {
		b.history = b.history[len(b.history)-b.limit:]
	}
	select {
	case b.ch <- e:
	default:
		b.dropped++
	}
	return nil
}

// Subscribe 消费总线中的事件，直到 ctx 结束或总线关闭。
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-b.ch:
			if !ok {
				return nil
			}
			handle(ctx, componentLogger(), "memory", e, handler)
		}
	}
}

// Events 返回已记录事件的副本。
func (b *MemoryBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history...)
}

// Dropped 返回因缓冲区满而未转发的事件数。
func (b *MemoryBus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close 关闭总线。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		close(b.ch)
		b.closed = true
	}
	return nil
}
