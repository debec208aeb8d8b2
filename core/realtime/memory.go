package realtime

import (
	"context"
	"sync"

	"LiveFM/logger"

	"github.com/google/uuid"
)

// MemoryBus 进程内频道，用于单机模拟与测试
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
	// drop 返回 true 时丢弃该事件，用于模拟丢包
	drop func(topic, event string) bool
}

// NewMemoryBus 创建进程内总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]map[*memorySub]struct{}),
	}
}

// SetDropFilter 设置丢包过滤器，nil 表示不丢包
func (b *MemoryBus) SetDropFilter(fn func(topic, event string) bool) {
	b.mu.Lock()
	b.drop = fn
	b.mu.Unlock()
}

// Client 返回一个独立身份的频道客户端，它不会收到自己发出的事件
func (b *MemoryBus) Client() *MemoryClient {
	return &MemoryClient{bus: b, id: uuid.NewString()}
}

// SubscriberCount 主题当前订阅数
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *MemoryBus) publish(origin string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.drop != nil && b.drop(ev.Topic, ev.Name) {
		return
	}

	for sub := range b.topics[ev.Topic] {
		if sub.owner == origin {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			logger.Debug("memory subscription buffer full, event dropped",
				logger.String("topic", ev.Topic),
				logger.String("event", ev.Name))
		}
	}
}

func (b *MemoryBus) remove(sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}

// MemoryClient MemoryBus 上的一个客户端
type MemoryClient struct {
	bus *MemoryBus
	id  string
}

// Subscribe 订阅主题
func (c *MemoryClient) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySub{
		bus:   c.bus,
		owner: c.id,
		topic: topic,
		ch:    make(chan Event, subscriptionBuffer),
	}

	c.bus.mu.Lock()
	if c.bus.topics[topic] == nil {
		c.bus.topics[topic] = make(map[*memorySub]struct{})
	}
	c.bus.topics[topic][sub] = struct{}{}
	c.bus.mu.Unlock()

	return sub, nil
}

// Send 广播事件
func (c *MemoryClient) Send(ctx context.Context, topic, event string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	c.bus.publish(c.id, Event{Topic: topic, Name: event, Payload: data})
	return nil
}

type memorySub struct {
	bus   *MemoryBus
	owner string
	topic string
	ch    chan Event
	once  sync.Once
}

func (s *memorySub) Events() <-chan Event {
	return s.ch
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
	})
	return nil
}
