package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"LiveFM/config"
	"LiveFM/logger"
	"LiveFM/model"
)

// Mode 校正模式，决定漂移阈值
type Mode int

const (
	// Ambient 心跳或房主操作带来的被动校正
	Ambient Mode = iota
	// Manual 听众主动点击同步
	Manual
)

func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "ambient"
}

// Result 一次校正做了什么
type Result struct {
	Loaded bool
	Seeked bool
	SeekTo float64
	Drift  float64
	Played bool
	Paused bool
	// Stale 被更新的校正取代，结果已丢弃
	Stale bool
}

// Synchronizer 让本地元素跟随房主的权威状态
// 并发调用时只有最新一次生效，旧的加载完成后不再应用位置和播放状态
type Synchronizer struct {
	el     Element
	tuning *config.TuningStore
	now    func() time.Time

	gen     atomic.Uint64
	mu      sync.Mutex
	syncing atomic.Bool
}

// New 创建同步器，tuning 为 nil 时使用默认参数
func New(el Element, tuning *config.TuningStore) *Synchronizer {
	return &Synchronizer{el: el, tuning: tuning, now: time.Now}
}

// SetClock 替换时钟
func (s *Synchronizer) SetClock(now func() time.Time) {
	s.now = now
}

// Threshold 模式对应的漂移阈值（秒）
func (s *Synchronizer) Threshold(mode Mode) float64 {
	t := s.tuning.Get()
	if mode == Manual {
		return t.ManualDrift
	}
	return t.HeartbeatDrift
}

// Syncing 手动同步是否进行中
func (s *Synchronizer) Syncing() bool {
	return s.syncing.Load()
}

// Resync 手动同步，使用更严格的阈值
func (s *Synchronizer) Resync(ctx context.Context, room model.Room, sentAt int64) (Result, error) {
	s.syncing.Store(true)
	defer s.syncing.Store(false)
	return s.Reconcile(ctx, room, sentAt, Manual)
}

// Begin 领取一个代数。异步校正应在收到事件时领取，保证最后收到的事件生效
func (s *Synchronizer) Begin() uint64 {
	return s.gen.Add(1)
}

// Reconcile 把元素校正到房间状态
func (s *Synchronizer) Reconcile(ctx context.Context, room model.Room, sentAt int64, mode Mode) (Result, error) {
	return s.ReconcileAt(ctx, s.Begin(), room, sentAt, mode)
}

// ReconcileAt 使用 Begin 领取的代数校正，已有更新的代数时直接标记为过期
func (s *Synchronizer) ReconcileAt(ctx context.Context, gen uint64, room model.Room, sentAt int64, mode Mode) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	if gen != s.gen.Load() {
		res.Stale = true
		return res, nil
	}

	track := room.CurrentTrack
	if track == nil || track.Src == "" {
		if !s.el.Paused() {
			if err := s.el.Pause(); err != nil {
				logger.Debug("pause failed", logger.ErrorField(err))
			}
			res.Paused = true
		}
		return res, nil
	}

	tuning := s.tuning.Get()
	target := TargetPosition(room, sentAt, s.now(), tuning.MaxLatencyCompensation)

	if s.el.Source() != track.Src {
		if err := s.el.Load(ctx, track.Src); err != nil {
			return res, fmt.Errorf("load %s: %w", track.Src, err)
		}
		res.Loaded = true
		if gen != s.gen.Load() {
			res.Stale = true
			return res, nil
		}
		// 加载完成后时间已流逝，重新计算
		target = TargetPosition(room, sentAt, s.now(), tuning.MaxLatencyCompensation)
		if target > 0 {
			if err := s.el.Seek(target); err != nil {
				logger.Debug("seek after load failed", logger.ErrorField(err))
			} else {
				res.Seeked = true
				res.SeekTo = target
			}
		}
	} else {
		res.Drift = math.Abs(s.el.Position() - target)
		if res.Drift > s.Threshold(mode) {
			if err := s.el.Seek(target); err != nil {
				logger.Debug("drift seek failed", logger.ErrorField(err))
			} else {
				res.Seeked = true
				res.SeekTo = target
			}
		}
	}

	if room.IsPlaying {
		if s.el.Paused() {
			// 自动播放被拦截等错误静默忽略
			if err := s.el.Play(ctx); err != nil {
				logger.Debug("play rejected", logger.ErrorField(err))
			} else {
				res.Played = true
			}
		}
	} else if !s.el.Paused() {
		if err := s.el.Pause(); err != nil {
			logger.Debug("pause failed", logger.ErrorField(err))
		} else {
			res.Paused = true
		}
	}

	logger.Debug("playback reconciled",
		logger.String("mode", mode.String()),
		logger.String("src", track.Src),
		logger.Float64("target", target),
		logger.Float64("drift", res.Drift),
		logger.Bool("seeked", res.Seeked))
	return res, nil
}

// TargetPosition 权威位置，播放中时加上发送以来经过的时间
func TargetPosition(room model.Room, sentAt int64, now time.Time, maxCompensation time.Duration) float64 {
	pos := room.CurrentProgress
	if room.IsPlaying && sentAt > 0 {
		elapsed := now.Sub(time.UnixMilli(sentAt))
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed > maxCompensation {
			elapsed = maxCompensation
		}
		pos += elapsed.Seconds()
	}
	if pos < 0 {
		pos = 0
	}
	if room.CurrentTrack != nil && room.CurrentTrack.Duration > 0 && pos > room.CurrentTrack.Duration {
		pos = room.CurrentTrack.Duration
	}
	return pos
}
