package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"LiveFM/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisChannel 基于 Redis Pub/Sub 的频道，多进程共享同一主题空间
type RedisChannel struct {
	client *redis.Client
	origin string
}

// NewRedisChannel 每个实例有独立的 origin，用来过滤自己发出的消息
func NewRedisChannel(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client, origin: uuid.NewString()}
}

// Origin 当前实例标识
func (c *RedisChannel) Origin() string {
	return c.origin
}

// Subscribe 订阅主题，等待 Redis 确认后返回
func (c *RedisChannel) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := c.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSub{
		ps:   ps,
		ch:   make(chan Event, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go sub.pump(c.origin)
	return sub, nil
}

// Send 以 Frame 形式发布
func (c *RedisChannel) Send(ctx context.Context, topic, event string, payload interface{}) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Frame{Topic: topic, Event: event, Payload: data, Origin: c.origin})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := c.client.Publish(ctx, topic, frame).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump(origin string) {
	defer close(s.ch)
	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				logger.Warn("invalid frame from redis",
					logger.ErrorField(err),
					logger.String("channel", msg.Channel))
				continue
			}
			if f.Origin == origin {
				continue
			}
			if f.Topic == "" {
				f.Topic = msg.Channel
			}
			select {
			case s.ch <- f.event():
			default:
				logger.Debug("redis subscription buffer full, event dropped",
					logger.String("topic", f.Topic),
					logger.String("event", f.Event))
			}
		}
	}
}

func (s *redisSub) Events() <-chan Event {
	return s.ch
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
