package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"LiveFM/logger"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

// WSChannel 连接中继服务器的 WebSocket 频道客户端
// 一个连接上复用多个主题订阅
type WSChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]map[*wsSub]struct{}
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

// DialWS 连接中继服务器，token 通过 Authorization 头传递
func DialWS(ctx context.Context, url, token string) (*WSChannel, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &WSChannel{
		conn: conn,
		subs: make(map[string]map[*wsSub]struct{}),
		done: make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Done 连接断开后关闭
func (c *WSChannel) Done() <-chan struct{} {
	return c.done
}

// Subscribe 订阅主题，同一主题的第一个订阅才会通知服务器
func (c *WSChannel) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &wsSub{owner: c, topic: topic, ch: make(chan Event, subscriptionBuffer)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	first := len(c.subs[topic]) == 0
	if first {
		c.subs[topic] = make(map[*wsSub]struct{})
	}
	c.subs[topic][sub] = struct{}{}
	c.mu.Unlock()

	if first {
		if err := c.writeFrame(Frame{Op: OpSubscribe, Topic: topic}); err != nil {
			c.removeSub(sub, false)
			return nil, err
		}
	}
	return sub, nil
}

// Send 通过中继广播
func (c *WSChannel) Send(ctx context.Context, topic, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return c.writeFrame(Frame{Op: OpSend, Topic: topic, Event: event, Payload: data})
}

// Close 断开连接并关闭所有订阅
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *WSChannel) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *WSChannel) readPump() {
	defer c.shutdown()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("relay connection lost", logger.ErrorField(err))
			}
			return
		}

		// 服务端可能把多帧合并在一条消息里，以换行分隔
		for _, line := range bytes.Split(message, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var f Frame
			if err := json.Unmarshal(line, &f); err != nil {
				logger.Warn("invalid frame from relay", logger.ErrorField(err))
				continue
			}
			c.dispatch(f.event())
		}
	}
}

func (c *WSChannel) dispatch(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sub := range c.subs[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			logger.Debug("relay subscription buffer full, event dropped",
				logger.String("topic", ev.Topic),
				logger.String("event", ev.Name))
		}
	}
}

func (c *WSChannel) shutdown() {
	c.mu.Lock()
	c.closed = true
	for topic, subs := range c.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(c.subs, topic)
	}
	c.mu.Unlock()

	c.closeOnce.Do(func() { c.conn.Close() })
	close(c.done)
}

// removeSub 移除本地订阅，最后一个订阅移除时通知服务器退订
func (c *WSChannel) removeSub(sub *wsSub, notify bool) {
	c.mu.Lock()
	subs, ok := c.subs[sub.topic]
	if !ok {
		c.mu.Unlock()
		return
	}
	if _, ok := subs[sub]; !ok {
		c.mu.Unlock()
		return
	}
	delete(subs, sub)
	close(sub.ch)
	last := len(subs) == 0
	if last {
		delete(c.subs, sub.topic)
	}
	c.mu.Unlock()

	if last && notify {
		if err := c.writeFrame(Frame{Op: OpUnsubscribe, Topic: sub.topic}); err != nil && err != ErrClosed {
			logger.Debug("unsubscribe frame not sent",
				logger.String("topic", sub.topic),
				logger.ErrorField(err))
		}
	}
}

type wsSub struct {
	owner *WSChannel
	topic string
	ch    chan Event
	once  sync.Once
}

func (s *wsSub) Events() <-chan Event {
	return s.ch
}

func (s *wsSub) Close() error {
	s.once.Do(func() {
		s.owner.removeSub(s, true)
	})
	return nil
}
