package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryBusDeliversAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewMemoryBus(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Event
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, func(_ context.Context, e Event) error {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
			return nil
		})
	}()

	for i := 1; i <= 3; i++ {
		e := New(KindAttempt, "c1", "sent")
		e.Sequence = i
		require.NoError(t, bus.Publish(ctx, e))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Close())
	assert.NoError(t, <-done)
	assert.Error(t, bus.Publish(context.Background(), New(KindAttempt, "c1", "sent")))
	assert.Len(t, bus.Events(), 3)
	assert.Equal(t, 2, bus.Events()[1].Sequence)
}

func TestMemoryBusNeverBlocks(t *testing.T) {
	bus := NewMemoryBus(2)
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), New(KindAccount, "c", "done")))
	}
	assert.Equal(t, 3, bus.Dropped())
	assert.Len(t, bus.Events(), 2)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
}

func TestNewEventIDsAreUnique(t *testing.T) {
	a := New(KindAttempt, "c", "pending")
	b := New(KindAttempt, "c", "pending")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 36)

	raw, err := encode(a)
	require.NoError(t, err)
	back, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, a.ID, back.ID)
	assert.True(t, a.At.Equal(back.At))
}

func TestEventString(t *testing.T) {
	e := New(KindAttempt, "c", "confirmed")
	e.Account = "account-1"
	e.Sequence = 2
	e.Token = "euclid"
	e.TxHash = "0xabc"
	s := e.String()
	assert.Contains(t, s, "account=account-1")
	assert.Contains(t, s, "tx=2")
	assert.Contains(t, s, "hash=0xabc")
	assert.NotContains(t, s, "success=")

	sum := New(KindAccount, "c", "done")
	sum.Success, sum.Failed = 2, 1
	assert.Contains(t, sum.String(), "success=2 failed=1")
}

func TestOpen(t *testing.T) {
	bus, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, bus)

	bus, err = Open(context.Background(), Config{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBus{}, bus)

	_, err = Open(context.Background(), Config{Driver: "kafka"})
	assert.Error(t, err)
	_, err = Open(context.Background(), Config{Driver: "rabbitmq"})
	assert.Error(t, err)
	_, err = Open(context.Background(), Config{Driver: "redis"})
	assert.Error(t, err)
}

func TestRedisUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = NewRedis(ctx, RedisConfig{Address: addr})
	assert.Error(t, err)
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRabbitMQUnreachable(t *testing.T) {
	_, err := NewRabbitMQ(RabbitMQConfig{})
	assert.Error(t, err)

	_, err = NewRabbitMQ(RabbitMQConfig{URL: "amqp://guest:guest@" + closedAddr(t) + "/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "连接 RabbitMQ 失败")
}

func TestRabbitMQUninitialised(t *testing.T) {
	ctx := context.Background()
	handler := func(context.Context, Event) error { return nil }

	var nilQueue *RabbitMQ
	assert.Error(t, nilQueue.Publish(ctx, New(KindAttempt, "c1", "sent")))
	assert.Error(t, nilQueue.Subscribe(ctx, handler))
	assert.NoError(t, nilQueue.Close())

	empty := &RabbitMQ{}
	assert.Error(t, empty.Publish(ctx, New(KindAttempt, "c1", "sent")))
	assert.Error(t, empty.Subscribe(ctx, handler))
	assert.NoError(t, empty.Close())
}

func TestDispatchLogsDroppedMessages(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	calls := 0
	handler := func(context.Context, Event) error {
		calls++
		return nil
	}

	dispatch(context.Background(), log, "redis", []byte("not json"), handler)
	assert.Zero(t, calls)
	assert.Contains(t, buf.String(), "丢弃无法解析的事件消息")
	assert.Contains(t, buf.String(), "source=redis")
}

func TestDispatchLogsHandlerErrors(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	ev := New(KindAttempt, "c1", "confirmed")
	raw, err := encode(ev)
	require.NoError(t, err)

	var got Event
	dispatch(context.Background(), log, "rabbitmq", raw, func(_ context.Context, e Event) error {
		got = e
		return errors.New("terminal closed")
	})
	assert.Equal(t, ev.ID, got.ID)
	assert.Contains(t, buf.String(), "事件处理失败")
	assert.Contains(t, buf.String(), ev.ID)
	assert.Contains(t, buf.String(), "terminal closed")

	buf.Reset()
	dispatch(context.Background(), log, "rabbitmq", raw, func(context.Context, Event) error { return nil })
	assert.Empty(t, buf.String())
}
