// Package realtime 基于主题的实时广播频道
//
// 语义是尽力而为：发送不确认、不重试，不同发布者之间没有顺序保证，
// 发送者不会收到自己发出的事件。
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed 频道或订阅已关闭
var ErrClosed = errors.New("realtime: closed")

// Event 频道上的一条命名事件
type Event struct {
	Topic   string
	Name    string
	Payload json.RawMessage
}

// Decode 解析事件负载
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has empty payload", e.Name)
	}
	return json.Unmarshal(e.Payload, v)
}

// Subscription 一个主题的订阅
type Subscription interface {
	// Events 事件按底层频道的投递顺序到达，关闭订阅后通道被关闭
	Events() <-chan Event
	Close() error
}

// Channel 实时频道
type Channel interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	// Send 发后即忘，返回 nil 不代表任何人收到
	Send(ctx context.Context, topic, event string, payload interface{}) error
}

// 客户端 <-> 中继服务器的帧操作
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpSend        = "send"
)

// Frame WebSocket 中继与 Redis 总线上传输的统一帧
type Frame struct {
	Op      string          `json:"op,omitempty"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin,omitempty"` // 发送端标识，用于过滤回声
}

func (f Frame) event() Event {
	return Event{Topic: f.Topic, Name: f.Event, Payload: f.Payload}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return data, nil
	}
}

// subscriptionBuffer 每个订阅的缓冲，写满后丢弃新事件
const subscriptionBuffer = 256
