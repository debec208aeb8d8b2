package model

import (
	"encoding/json"
	"fmt"
)

// SyncUpdate room_sync 事件携带的房间补丁
// 只有出现的字段才有意义；缺失表示"不变"，不是清空。
// TrackSet 为 true 且 CurrentTrack 为 nil 表示曲目被清空。
type SyncUpdate struct {
	TrackSet        bool
	CurrentTrack    *Track
	CurrentProgress *float64
	IsPlaying       *bool
	IsMicActive     *bool
	Listeners       *int

	// SentAt 房主发送时的墙钟时间（毫秒），只用于延迟补偿，不参与合并
	SentAt int64
}

// WithTrack 设置曲目字段（nil 表示清空）
func (u SyncUpdate) WithTrack(t *Track) SyncUpdate {
	u.TrackSet = true
	if t != nil {
		c := *t
		t = &c
	}
	u.CurrentTrack = t
	return u
}

// WithProgress 设置播放进度
func (u SyncUpdate) WithProgress(pos float64) SyncUpdate {
	u.CurrentProgress = &pos
	return u
}

// WithPlaying 设置播放状态
func (u SyncUpdate) WithPlaying(playing bool) SyncUpdate {
	u.IsPlaying = &playing
	return u
}

// WithMic 设置麦克风状态
func (u SyncUpdate) WithMic(active bool) SyncUpdate {
	u.IsMicActive = &active
	return u
}

// WithListeners 设置在线听众数
func (u SyncUpdate) WithListeners(n int) SyncUpdate {
	u.Listeners = &n
	return u
}

// IsEmpty 补丁不含任何字段
func (u SyncUpdate) IsEmpty() bool {
	return !u.TrackSet && u.CurrentProgress == nil && u.IsPlaying == nil &&
		u.IsMicActive == nil && u.Listeners == nil
}

// ChangesTrack 补丁是否会改变当前曲目
func (u SyncUpdate) ChangesTrack(r *Room) bool {
	return u.TrackSet && !u.CurrentTrack.SameSource(r.CurrentTrack)
}

// Apply 把补丁合并进房间镜像，只覆盖出现的字段。
// 所有接收端都只能通过这个函数修改镜像。
func (r *Room) Apply(u SyncUpdate) {
	if r == nil {
		return
	}
	if u.TrackSet {
		if u.CurrentTrack == nil {
			r.CurrentTrack = nil
		} else {
			t := *u.CurrentTrack
			r.CurrentTrack = &t
		}
	}
	if u.CurrentProgress != nil {
		r.CurrentProgress = *u.CurrentProgress
	}
	if u.IsPlaying != nil {
		r.IsPlaying = *u.IsPlaying
	}
	if u.IsMicActive != nil {
		r.IsMicActive = *u.IsMicActive
	}
	if u.Listeners != nil {
		r.Listeners = *u.Listeners
	}
}

// SnapshotUpdate 用房间当前传输状态生成一个完整补丁（心跳使用）
func SnapshotUpdate(r *Room) SyncUpdate {
	return SyncUpdate{}.
		WithTrack(r.CurrentTrack).
		WithProgress(r.CurrentProgress).
		WithPlaying(r.IsPlaying).
		WithMic(r.IsMicActive)
}

// MarshalJSON 只输出出现的字段，currentTrack 允许显式 null
func (u SyncUpdate) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 6)
	if u.TrackSet {
		out["currentTrack"] = u.CurrentTrack
	}
	if u.CurrentProgress != nil {
		out["currentProgress"] = *u.CurrentProgress
	}
	if u.IsPlaying != nil {
		out["isPlaying"] = *u.IsPlaying
	}
	if u.IsMicActive != nil {
		out["isMicActive"] = *u.IsMicActive
	}
	if u.Listeners != nil {
		out["listeners"] = *u.Listeners
	}
	if u.SentAt > 0 {
		out["sentAt"] = u.SentAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON 按 key 是否出现区分"缺失"和"null"
func (u *SyncUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid room_sync payload: %w", err)
	}

	var out SyncUpdate
	if v, ok := raw["currentTrack"]; ok {
		out.TrackSet = true
		if string(v) != "null" {
			var t Track
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("invalid currentTrack: %w", err)
			}
			out.CurrentTrack = &t
		}
	}
	if v, ok := raw["currentProgress"]; ok && string(v) != "null" {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return fmt.Errorf("invalid currentProgress: %w", err)
		}
		out.CurrentProgress = &f
	}
	if v, ok := raw["isPlaying"]; ok && string(v) != "null" {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return fmt.Errorf("invalid isPlaying: %w", err)
		}
		out.IsPlaying = &b
	}
	if v, ok := raw["isMicActive"]; ok && string(v) != "null" {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return fmt.Errorf("invalid isMicActive: %w", err)
		}
		out.IsMicActive = &b
	}
	if v, ok := raw["listeners"]; ok && string(v) != "null" {
		var n int
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("invalid listeners: %w", err)
		}
		out.Listeners = &n
	}
	if v, ok := raw["sentAt"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &out.SentAt); err != nil {
			return fmt.Errorf("invalid sentAt: %w", err)
		}
	}

	*u = out
	return nil
}
