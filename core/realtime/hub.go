package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"LiveFM/logger"
	"LiveFM/model"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 1 << 20 // 语音分片较大
	clientSendSize = 256
)

// Presence 在线状态记录，Hub 在订阅、心跳和断开时调用
type Presence interface {
	Touch(ctx context.Context, roomID string, userID int64) error
	Remove(ctx context.Context, roomID string, userID int64) error
}

// Client 中继上的一个 WebSocket 连接
type Client struct {
	ID       string
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	UserID   int64
	Username string

	topics map[string]bool // 由 Hub.mu 保护
}

// Hub 主题中继中心
// 客户端发到某个主题的帧会转发给该主题的其他订阅者，不回发给发送者
type Hub struct {
	// 主题 -> 客户端集合
	topics  map[string]map[*Client]bool
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *outbound

	mu   sync.RWMutex
	done chan struct{}
	stop sync.Once

	// 多实例部署时通过 Redis 转发，nil 表示单机
	backplane *redis.Client
	nodeID    string

	presence Presence
}

type outbound struct {
	topic   string
	data    []byte
	exclude *Client
}

// HubOption Hub 选项
type HubOption func(*Hub)

// WithBackplane 使用 Redis 在多个实例间转发
func WithBackplane(client *redis.Client) HubOption {
	return func(h *Hub) { h.backplane = client }
}

// WithPresence 记录房间在线状态
func WithPresence(p Presence) HubOption {
	return func(h *Hub) { h.presence = p }
}

// NewHub 创建中继
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		topics:     make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *outbound, 256),
		done:       make(chan struct{}),
		nodeID:     uuid.NewString(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run 启动主循环，ctx 结束或 Stop 后返回
func (h *Hub) Run(ctx context.Context) {
	defer h.Stop()
	if h.backplane != nil {
		go h.runBackplane(ctx)
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info("relay client registered",
				logger.String("client", client.ID),
				logger.Int64("user", client.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			topics := h.removeClient(client)
			h.mu.Unlock()
			h.dropPresence(client, topics)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ctx.Done():
			h.cleanup()
			return

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止中继
func (h *Hub) Stop() {
	h.stop.Do(func() { close(h.done) })
}

// NewClient 为已升级的连接创建客户端
func (h *Hub) NewClient(conn *websocket.Conn, viewer model.Viewer) *Client {
	return &Client{
		ID:       uuid.NewString(),
		Hub:      h,
		Conn:     conn,
		Send:     make(chan []byte, clientSendSize),
		UserID:   viewer.ID,
		Username: viewer.Name,
		topics:   make(map[string]bool),
	}
}

// Serve 注册客户端并启动读写循环，读循环结束后返回
func (h *Hub) Serve(ctx context.Context, client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Conn.Close()
		return
	case <-ctx.Done():
		client.Conn.Close()
		return
	}
	go client.WritePump()
	client.ReadPump(ctx)
}

// SubscriberCount 主题的本地订阅数
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish 服务端主动向主题广播（例如房间被删除时）
func (h *Hub) Publish(ctx context.Context, topic, event string, payload interface{}) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return h.relay(ctx, nil, Frame{Topic: topic, Event: event, Payload: data})
}

func (h *Hub) subscribe(client *Client, topic string) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true
	client.topics[topic] = true
	h.mu.Unlock()

	h.touchPresence(client, []string{topic})
}

func (h *Hub) unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	removed := h.detach(client, topic)
	h.mu.Unlock()

	if removed {
		h.dropPresence(client, []string{topic})
	}
}

// detach 需要持有锁
func (h *Hub) detach(client *Client, topic string) bool {
	subs, ok := h.topics[topic]
	if !ok || !subs[client] {
		return false
	}
	delete(subs, client)
	delete(client.topics, topic)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	return true
}

// removeClient 需要持有锁，返回客户端订阅过的主题
func (h *Hub) removeClient(client *Client) []string {
	if !h.clients[client] {
		return nil
	}
	topics := make([]string, 0, len(client.topics))
	for topic := range client.topics {
		topics = append(topics, topic)
	}
	for _, topic := range topics {
		h.detach(client, topic)
	}
	delete(h.clients, client)
	close(client.Send)

	logger.Info("relay client unregistered",
		logger.String("client", client.ID),
		logger.Int64("user", client.UserID))
	return topics
}

// relay 本地投递并转发到其他实例
func (h *Hub) relay(ctx context.Context, from *Client, f Frame) error {
	out := Frame{Topic: f.Topic, Event: f.Event, Payload: f.Payload}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- &outbound{topic: f.Topic, data: data, exclude: from}:
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	if h.backplane != nil {
		out.Origin = h.nodeID
		wire, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if err := h.backplane.Publish(ctx, f.Topic, wire).Err(); err != nil {
			logger.Warn("backplane publish failed",
				logger.String("topic", f.Topic),
				logger.ErrorField(err))
		}
	}
	return nil
}

// deliver 只在 Run 循环中调用
func (h *Hub) deliver(msg *outbound) {
	h.mu.RLock()
	subs := h.topics[msg.topic]
	clientList := make([]*Client, 0, len(subs))
	for client := range subs {
		if client != msg.exclude {
			clientList = append(clientList, client)
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clientList {
		select {
		case client.Send <- msg.data:
		default:
			// 发送缓冲区满，断开该客户端
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		h.mu.Lock()
		topics := h.removeClient(client)
		h.mu.Unlock()
		h.dropPresence(client, topics)
	}
}

func (h *Hub) runBackplane(ctx context.Context) {
	ps := h.backplane.PSubscribe(ctx, model.RoomTopic("*"))
	defer ps.Close()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				logger.Warn("invalid backplane frame", logger.ErrorField(err))
				continue
			}
			if f.Origin == h.nodeID {
				continue
			}
			f.Origin = ""
			data, err := json.Marshal(f)
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- &outbound{topic: f.Topic, data: data}:
			case <-h.done:
				return
			}
		}
	}
}

func (h *Hub) touchPresence(client *Client, topics []string) {
	if h.presence == nil {
		return
	}
	for _, topic := range topics {
		roomID, ok := model.RoomIDFromTopic(topic)
		if !ok {
			continue
		}
		if err := h.presence.Touch(context.Background(), roomID, client.UserID); err != nil {
			logger.Warn("failed to update user presence",
				logger.ErrorField(err),
				logger.String("room", roomID),
				logger.Int64("user", client.UserID))
		}
	}
}

func (h *Hub) dropPresence(client *Client, topics []string) {
	if h.presence == nil {
		return
	}
	for _, topic := range topics {
		roomID, ok := model.RoomIDFromTopic(topic)
		if !ok {
			continue
		}
		if err := h.presence.Remove(context.Background(), roomID, client.UserID); err != nil {
			logger.Warn("failed to remove user presence",
				logger.ErrorField(err),
				logger.String("room", roomID),
				logger.Int64("user", client.UserID))
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]bool)
	h.topics = make(map[string]map[*Client]bool)
}

// ========== Client 方法 ==========

// ReadPump 读取帧循环
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.Hub.touchPresence(c, c.subscribedTopics())
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("client", c.ID),
					logger.Int64("user", c.UserID))
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			logger.Warn("invalid frame format",
				logger.ErrorField(err),
				logger.String("client", c.ID))
			continue
		}
		f.Topic = strings.TrimSpace(f.Topic)
		if f.Topic == "" {
			continue
		}

		switch f.Op {
		case OpSubscribe:
			c.Hub.subscribe(c, f.Topic)
		case OpUnsubscribe:
			c.Hub.unsubscribe(c, f.Topic)
		case OpSend:
			if f.Event == "" {
				continue
			}
			if err := c.Hub.relay(ctx, c, f); err != nil {
				return
			}
		default:
			logger.Debug("unknown frame op",
				logger.String("op", f.Op),
				logger.String("client", c.ID))
		}
	}
}

// WritePump 写入循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 合并发送队列中的帧，以换行分隔
			n := len(c.Send)
			for i := 0; i < n; i++ {
				next, ok := <-c.Send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) subscribedTopics() []string {
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	return topics
}
