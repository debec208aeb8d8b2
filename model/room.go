package model

import (
	"strings"
	"time"
)

// Room 直播间
// 同时也是行存储中的 rooms 表模型；CurrentTrack 以 JSON 列存储
type Room struct {
	ID              string    `json:"id" gorm:"primaryKey;size:8"`
	Title           string    `json:"title" gorm:"size:100;not null"`
	CoverURL        string    `json:"coverUrl,omitempty" gorm:"size:512"`
	HostID          int64     `json:"hostId" gorm:"index;not null"`
	HostName        string    `json:"hostName" gorm:"size:64"`
	HostAvatar      string    `json:"hostAvatar,omitempty" gorm:"size:512"`
	Listeners       int       `json:"listeners" gorm:"default:0"`
	CurrentTrack    *Track    `json:"currentTrack" gorm:"type:json;serializer:json"`
	CurrentProgress float64   `json:"currentProgress"` // 播放进度（秒）
	IsPlaying       bool      `json:"isPlaying"`
	IsMicActive     bool      `json:"isMicActive"`
	CreatedAt       time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Room) TableName() string {
	return "live_rooms"
}

// IsHost 角色由身份比较得出，不做缓存
func (r *Room) IsHost(userID int64) bool {
	return r != nil && r.HostID == userID
}

// Clone 深拷贝，CurrentTrack 不与原对象共享
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	if r.CurrentTrack != nil {
		t := *r.CurrentTrack
		c.CurrentTrack = &t
	}
	return &c
}

// Topic 房间对应的实时频道
func (r *Room) Topic() string {
	return RoomTopic(r.ID)
}

const roomTopicPrefix = "room:"

// RoomTopic 返回 room:<roomId>
func RoomTopic(roomID string) string {
	return roomTopicPrefix + roomID
}

// RoomIDFromTopic 从频道名解析房间ID，非房间频道返回 false
func RoomIDFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, roomTopicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, roomTopicPrefix)
	return id, id != ""
}
