package model

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// 实时频道事件名
const (
	EventMessage    = "message"
	EventRoomSync   = "room_sync"
	EventVoiceChunk = "voice_chunk"
)

// 消息类型
const (
	MsgKindText   = "text"
	MsgKindSystem = "system"
)

// 系统消息代码
const (
	MsgCodeRoomEnded = "room_ended"
)

// RoomMessage 房间聊天消息，只存在于本次直播，不落库
type RoomMessage struct {
	ID        string `json:"id"`
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Type      string `json:"type"`           // text, system
	Code      string `json:"code,omitempty"` // 系统消息代码
	CreatedAt int64  `json:"createdAt"`      // 毫秒时间戳
}

// VoiceChunkPayload voice_chunk 事件负载，chunk 为 base64 文本
type VoiceChunkPayload struct {
	Chunk string `json:"chunk"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID 生成按时间有序的消息ID
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewTextMessage 创建一条聊天消息
func NewTextMessage(sender Viewer, text string) RoomMessage {
	return RoomMessage{
		ID:        NewMessageID(),
		UserID:    sender.ID,
		Username:  sender.Name,
		Text:      strings.TrimSpace(text),
		Type:      MsgKindText,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NewSystemMessage 创建一条系统消息
func NewSystemMessage(sender Viewer, code, text string) RoomMessage {
	return RoomMessage{
		ID:        NewMessageID(),
		UserID:    sender.ID,
		Username:  sender.Name,
		Text:      text,
		Type:      MsgKindSystem,
		Code:      code,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// IsRoomEnded 是否为直播结束通知
func (m RoomMessage) IsRoomEnded() bool {
	return m.Type == MsgKindSystem && m.Code == MsgCodeRoomEnded
}
