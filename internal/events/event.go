// Package events 将交易尝试的状态变化广播给旁路观察者（watch 命令、外部看板）。
// 所有实现都只做实时推送，不保存历史。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"SwapRunner/pkg/logger"
)

// Kind 区分事件来源。
type Kind string

const (
	KindAttempt  Kind = "attempt"
	KindAccount  Kind = "account"
	KindCampaign Kind = "campaign"
)

// Event 描述一次状态变化。
type Event struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Kind       Kind      `json:"kind"`
	Account    string    `json:"account,omitempty"`
	Sequence   int       `json:"sequence,omitempty"`
	Token      string    `json:"token,omitempty"`
	Status     string    `json:"status"`
	TxHash     string    `json:"tx_hash,omitempty"`
	Error      string    `json:"error,omitempty"`
	Success    int       `json:"success,omitempty"`
	Failed     int       `json:"failed,omitempty"`
	At         time.Time `json:"at"`
}

// New 创建带唯一 ID 与时间戳的事件。
func New(kind Kind, campaignID, status string) Event {
	return Event{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Kind:       kind,
		Status:     status,
		At:         time.Now().UTC(),
	}
}

// String 返回便于终端展示的一行文本。
func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-8s %-10s", e.At.Format(time.TimeOnly), e.Kind, e.Status)
	if e.Account != "" {
		fmt.Fprintf(&b, " account=%s", e.Account)
	}
	if e.Sequence > 0 {
		fmt.Fprintf(&b, " tx=%d", e.Sequence)
	}
	if e.Token != "" {
		fmt.Fprintf(&b, " token=%s", e.Token)
	}
	if e.TxHash != "" {
		fmt.Fprintf(&b, " hash=%s", e.TxHash)
	}
	if e.Kind != KindAttempt {
		fmt.Fprintf(&b, " success=%d failed=%d", e.Success, e.Failed)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func decode(raw []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(raw, &e)
	return e, err
}

// dispatch 解码一条消息并交给 handler。解码失败与 handler 错误只记录日志，订阅继续。
func dispatch(ctx context.Context, log *slog.Logger, source string, raw []byte, handler Handler) {
	e, err := decode(raw)
	if err != nil {
		log.Warn("丢弃无法解析的事件消息",
			slog.String("source", source),
			slog.Int("bytes", len(raw)),
			slog.Any("error", err),
		)
		return
	}
	handle(ctx, log, source, e, handler)
}

func handle(ctx context.Context, log *slog.Logger, source string, e Event, handler Handler) {
	if err := handler(ctx, e); err != nil {
		log.Warn("事件处理失败",
			slog.String("source", source),
			slog.String("event_id", e.ID),
			slog.String("kind", string(e.Kind)),
			slog.Any("error", err),
		)
	}
}

func componentLogger() *slog.Logger {
	return logger.Named("events")
}

// Handler 处理收到的事件。
type Handler func(ctx context.Context, e Event) error

// Publisher 负责推送事件。
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Subscriber 负责接收事件，直到 ctx 结束。
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}
