package room

import (
	"context"
	"sync"
	"time"

	"LiveFM/core/realtime"
	"LiveFM/logger"
	"LiveFM/model"
)

// RouterHandlers 入站事件回调，在路由协程中按到达顺序调用
type RouterHandlers struct {
	OnMessage    func(roomID string, msg model.RoomMessage)
	OnSync       func(roomID string, u model.SyncUpdate)
	OnVoiceChunk func(roomID string, chunk string)
}

// Router 把一个房间频道上的事件分发给会话，同一时刻只绑定一个房间
type Router struct {
	ch       realtime.Channel
	handlers RouterHandlers

	mu     sync.Mutex
	roomID string
	sub    realtime.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRouter 创建路由
func NewRouter(ch realtime.Channel, handlers RouterHandlers) *Router {
	return &Router{ch: ch, handlers: handlers}
}

// Bind 订阅 room:<roomID>，已绑定其他房间时先解绑
func (r *Router) Bind(ctx context.Context, roomID string) error {
	r.Unbind()

	sub, err := r.ch.Subscribe(ctx, model.RoomTopic(roomID))
	if err != nil {
		logger.Warn("subscribe room channel failed",
			logger.String("room", roomID),
			logger.ErrorField(err))
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.roomID = roomID
	r.sub = sub
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.loop(loopCtx, roomID, sub, done)
	logger.Debug("room channel bound", logger.String("room", roomID))
	return nil
}

// Unbind 退订并等待分发协程退出，不能在回调中调用
func (r *Router) Unbind() {
	r.mu.Lock()
	roomID, sub, cancel, done := r.roomID, r.sub, r.cancel, r.done
	r.roomID, r.sub, r.cancel, r.done = "", nil, nil, nil
	r.mu.Unlock()

	if sub == nil {
		return
	}
	cancel()
	if err := sub.Close(); err != nil {
		logger.Warn("unsubscribe room channel failed",
			logger.String("room", roomID),
			logger.ErrorField(err))
	}
	<-done
	logger.Debug("room channel unbound", logger.String("room", roomID))
}

// BoundRoom 当前绑定的房间，未绑定时为空
func (r *Router) BoundRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

func (r *Router) loop(ctx context.Context, roomID string, sub realtime.Subscription, done chan struct{}) {
	defer close(done)
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			r.dispatch(roomID, ev)
		}
	}
}

func (r *Router) dispatch(roomID string, ev realtime.Event) {
	// 旧房间的事件直接丢弃
	if ev.Topic != model.RoomTopic(roomID) || r.BoundRoom() != roomID {
		return
	}

	switch ev.Name {
	case model.EventMessage:
		var msg model.RoomMessage
		if err := ev.Decode(&msg); err != nil {
			logger.Warn("invalid message payload", logger.String("room", roomID), logger.ErrorField(err))
			return
		}
		if r.handlers.OnMessage != nil {
			r.handlers.OnMessage(roomID, msg)
		}

	case model.EventRoomSync:
		var u model.SyncUpdate
		if err := ev.Decode(&u); err != nil {
			logger.Warn("invalid room_sync payload", logger.String("room", roomID), logger.ErrorField(err))
			return
		}
		if r.handlers.OnSync != nil {
			r.handlers.OnSync(roomID, u)
		}

	case model.EventVoiceChunk:
		var p model.VoiceChunkPayload
		if err := ev.Decode(&p); err != nil {
			logger.Warn("invalid voice_chunk payload", logger.String("room", roomID), logger.ErrorField(err))
			return
		}
		if r.handlers.OnVoiceChunk != nil {
			r.handlers.OnVoiceChunk(roomID, p.Chunk)
		}

	default:
		logger.Debug("unknown room event", logger.String("room", roomID), logger.String("event", ev.Name))
	}
}

// BroadcastSync 广播状态补丁，附带发送时间
func (r *Router) BroadcastSync(ctx context.Context, roomID string, u model.SyncUpdate) {
	u.SentAt = time.Now().UnixMilli()
	r.send(ctx, roomID, model.EventRoomSync, u)
}

// BroadcastMessage 广播聊天或系统消息
func (r *Router) BroadcastMessage(ctx context.Context, roomID string, msg model.RoomMessage) {
	r.send(ctx, roomID, model.EventMessage, msg)
}

// BroadcastVoiceChunk 广播一段 base64 语音
func (r *Router) BroadcastVoiceChunk(ctx context.Context, roomID string, chunk string) {
	r.send(ctx, roomID, model.EventVoiceChunk, model.VoiceChunkPayload{Chunk: chunk})
}

// send 发后即忘，失败只记录日志；roomID 不是当前绑定的房间时不发送
func (r *Router) send(ctx context.Context, roomID, event string, payload interface{}) {
	if roomID == "" || r.BoundRoom() != roomID {
		logger.Debug("broadcast skipped, room not bound",
			logger.String("room", roomID),
			logger.String("event", event))
		return
	}
	if err := r.ch.Send(ctx, model.RoomTopic(roomID), event, payload); err != nil {
		logger.Warn("broadcast failed",
			logger.String("room", roomID),
			logger.String("event", event),
			logger.ErrorField(err))
	}
}
